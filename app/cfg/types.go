package cfg

import "time"

type Cfg struct {
	// Per-run settings file
	SettingsFile string

	// Dedup store
	Store         string
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Telegram
	BotToken  string
	ChannelID string
	Header    string

	// Application configuration
	Port              string
	SchedulerInterval int
	APIAccessKey      string
	Retention         time.Duration
	LeaseTTL          time.Duration
	FetchTimeout      time.Duration
	NotifyTimeout     time.Duration
	ClassifyTimeout   time.Duration
	Once              bool

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
