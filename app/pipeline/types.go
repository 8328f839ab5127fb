package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/settings"
	"github.com/lysyi3m/rss-relay/app/store"
)

var (
	ErrRunInProgress = errors.New("another run holds the lease")
	ErrNotConfigured = errors.New("pipeline dependencies not configured")
)

// Outcome is the terminal state of one item within a run.
type Outcome string

const (
	OutcomeSent               Outcome = "sent"
	OutcomeDeduped            Outcome = "deduped"
	OutcomeKeywordRejected    Outcome = "keyword_rejected"
	OutcomeClassifierRejected Outcome = "classifier_rejected"
	OutcomeSendFailed         Outcome = "send_failed"
	OutcomeUnidentifiable     Outcome = "unidentifiable"
	OutcomeStoreError         Outcome = "store_error"
	OutcomeErrored            Outcome = "errored"
)

type Summary struct {
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration"`
	Sources       int             `json:"sources"`
	SourcesFailed int             `json:"sources_failed"`
	Items         int             `json:"items"`
	Outcomes      map[Outcome]int `json:"outcomes"`
	Cancelled     bool            `json:"cancelled"`
}

func (s Summary) Count(o Outcome) int {
	return s.Outcomes[o]
}

type Clock func() time.Time

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Parser interface {
	Run(data []byte) []feed.Item
}

type Classifier interface {
	Classify(ctx context.Context, item feed.Item, ai settings.AI) bool
}

type Notifier interface {
	Format(item feed.Item) string
	Send(ctx context.Context, text string) bool
}

type Store interface {
	store.DedupStore
	store.Lease
}

type Deps struct {
	Fetcher    Fetcher
	Parser     Parser
	Classifier Classifier
	Notifier   Notifier
	Store      Store
	Clock      Clock
	NewOwner   func() string
	Retention  time.Duration
	LeaseTTL   time.Duration
}
