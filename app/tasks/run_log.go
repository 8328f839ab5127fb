package tasks

import (
	"sync"
	"time"

	"github.com/lysyi3m/rss-relay/app/pipeline"
)

// RunLog keeps the outcome of the most recent run for the status endpoint.
type RunLog struct {
	mu sync.RWMutex

	runs        int
	skipped     int
	failed      int
	lastSummary *pipeline.Summary
	lastError   string
	lastTrigger Trigger
	lastRunAt   time.Time
}

type RunStats struct {
	Runs        int               `json:"runs"`
	Skipped     int               `json:"skipped"`
	Failed      int               `json:"failed"`
	LastTrigger Trigger           `json:"last_trigger,omitempty"`
	LastRunAt   *time.Time        `json:"last_run_at,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	LastSummary *pipeline.Summary `json:"last_summary,omitempty"`
}

func NewRunLog() *RunLog {
	return &RunLog{}
}

func (l *RunLog) RecordRun(trigger Trigger, summary pipeline.Summary, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.runs++
	l.lastTrigger = trigger
	l.lastRunAt = summary.StartedAt
	l.lastSummary = &summary
	l.lastError = ""

	if err != nil {
		l.failed++
		l.lastError = err.Error()
	}
}

func (l *RunLog) RecordSkip() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.skipped++
}

func (l *RunLog) Stats() RunStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := RunStats{
		Runs:        l.runs,
		Skipped:     l.skipped,
		Failed:      l.failed,
		LastTrigger: l.lastTrigger,
		LastError:   l.lastError,
	}

	if !l.lastRunAt.IsZero() {
		at := l.lastRunAt
		stats.LastRunAt = &at
	}
	if l.lastSummary != nil {
		summary := *l.lastSummary
		stats.LastSummary = &summary
	}

	return stats
}
