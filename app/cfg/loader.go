package cfg

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Per-run settings file
	SettingsFile string `long:"settings" env:"SETTINGS_FILE" default:"./settings.yml" description:"YAML file with keyword and classifier settings, re-read on every run"`

	// Dedup store
	Store         string `long:"store" env:"STORE" default:"sqlite" choice:"sqlite" choice:"redis" choice:"memory" description:"Dedup store backend"`
	DBPath        string `long:"db-path" env:"DB_PATH" default:"./data/rss-relay.db" description:"SQLite database file"`
	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	RedisDB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`

	// Telegram
	BotToken  string `long:"bot-token" env:"BOT_TOKEN" description:"Telegram bot token (required)" required:"true"`
	ChannelID string `long:"channel-id" env:"CHANNEL_ID" description:"Telegram chat or channel id (required)" required:"true"`
	Header    string `long:"header" env:"MESSAGE_HEADER" default:"New post" description:"Header line of every notification"`

	// Application configuration
	Port              string        `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	SchedulerInterval int           `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"300" description:"Scheduler interval in seconds"`
	APIAccessKey      string        `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for manual runs (optional, disables /api/run when empty)"`
	Retention         time.Duration `long:"retention" env:"RETENTION" default:"168h" description:"How long a sent item is remembered"`
	LeaseTTL          time.Duration `long:"lease-ttl" env:"LEASE_TTL" default:"10m" description:"Run lease expiry, must exceed the fetch, classify and notify timeouts combined"`
	FetchTimeout      time.Duration `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"10s" description:"Feed fetch timeout"`
	NotifyTimeout     time.Duration `long:"notify-timeout" env:"NOTIFY_TIMEOUT" default:"10s" description:"Telegram send timeout"`
	ClassifyTimeout   time.Duration `long:"classify-timeout" env:"CLASSIFY_TIMEOUT" default:"15s" description:"Classifier request timeout"`
	Once              bool          `long:"once" env:"RUN_ONCE" description:"Run the pipeline once and exit"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"rss-relay/1.0 (+feed notifier)" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Asia/Shanghai)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load parses command line flags and environment variables. It returns
// nil, nil when help was requested.
func Load() (*Cfg, error) {
	return loadArgs(os.Args[1:])
}

func loadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		SettingsFile:      raw.SettingsFile,
		Store:             raw.Store,
		DBPath:            raw.DBPath,
		RedisAddr:         raw.RedisAddr,
		RedisPassword:     raw.RedisPassword,
		RedisDB:           raw.RedisDB,
		BotToken:          raw.BotToken,
		ChannelID:         raw.ChannelID,
		Header:            raw.Header,
		Port:              raw.Port,
		SchedulerInterval: raw.SchedulerInterval,
		APIAccessKey:      raw.APIAccessKey,
		Retention:         raw.Retention,
		LeaseTTL:          raw.LeaseTTL,
		FetchTimeout:      raw.FetchTimeout,
		NotifyTimeout:     raw.NotifyTimeout,
		ClassifyTimeout:   raw.ClassifyTimeout,
		Once:              raw.Once,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	return cfg, nil
}

func (c *Cfg) validate() error {
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %d", c.SchedulerInterval)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive, got %s", c.Retention)
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("lease TTL must be positive, got %s", c.LeaseTTL)
	}
	if c.TaskTimeout() <= 0 {
		return fmt.Errorf("lease TTL %s must exceed fetch, classify and notify timeouts combined (%s)", c.LeaseTTL, c.callBudget())
	}
	return nil
}

// TaskTimeout bounds a single run. Calls already in flight when it expires
// finish under their own timeouts, so the run still ends before the lease does.
func (c *Cfg) TaskTimeout() time.Duration {
	return c.LeaseTTL - c.callBudget()
}

func (c *Cfg) callBudget() time.Duration {
	return c.FetchTimeout + c.ClassifyTimeout + c.NotifyTimeout
}

func (c *Cfg) Interval() time.Duration {
	return time.Duration(c.SchedulerInterval) * time.Second
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
