package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/rss-relay/app/pipeline"
	"github.com/lysyi3m/rss-relay/app/settings"
)

// MockRunner records RunOnce calls and returns queued errors in order.
type MockRunner struct {
	mu    sync.Mutex
	calls int
	errs  []error
	done  chan struct{}
}

func NewMockRunner(errs ...error) *MockRunner {
	return &MockRunner{errs: errs, done: make(chan struct{}, 16)}
}

func (m *MockRunner) RunOnce(ctx context.Context, s settings.Settings) (pipeline.Summary, error) {
	m.mu.Lock()
	m.calls++
	var err error
	if len(m.errs) > 0 {
		err = m.errs[0]
		m.errs = m.errs[1:]
	}
	m.mu.Unlock()

	m.done <- struct{}{}

	return pipeline.Summary{
		StartedAt: time.Now(),
		Sources:   1,
		Outcomes:  map[pipeline.Outcome]int{pipeline.OutcomeSent: 1},
	}, err
}

func (m *MockRunner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockRunner) waitForCalls(t *testing.T, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		select {
		case <-m.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("Expected %d runs, got %d", n, m.Calls())
		}
	}
}

func waitForStats(t *testing.T, log *RunLog, ok func(RunStats) bool) RunStats {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		stats := log.Stats()
		if ok(stats) {
			return stats
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for run log, last stats %+v", stats)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func loadEmpty() (settings.Settings, error) {
	return settings.Settings{}, nil
}

func newTestScheduler(runner Runner) *Scheduler {
	s := NewScheduler(SchedulerOptions{
		Runner:       runner,
		LoadSettings: loadEmpty,
		Interval:     time.Hour,
	})
	s.retryDelay = func(int) time.Duration { return time.Millisecond }
	return s
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(SchedulerOptions{Runner: NewMockRunner(), LoadSettings: loadEmpty})

	if s.interval != DefaultInterval {
		t.Errorf("Expected default interval %v, got %v", DefaultInterval, s.interval)
	}
	if s.taskTimeout != DefaultTaskTimeout {
		t.Errorf("Expected default task timeout %v, got %v", DefaultTaskTimeout, s.taskTimeout)
	}
	if s.RunLog() == nil {
		t.Error("Expected run log to be created")
	}
}

func TestScheduler_RunsAtStartup(t *testing.T) {
	runner := NewMockRunner()
	s := newTestScheduler(runner)

	s.Start()
	defer s.Stop()

	runner.waitForCalls(t, 1)

	stats := waitForStats(t, s.RunLog(), func(st RunStats) bool { return st.Runs == 1 })
	if stats.LastTrigger != TriggerStartup {
		t.Errorf("Expected startup trigger, got %s", stats.LastTrigger)
	}
}

func TestScheduler_ManualTrigger(t *testing.T) {
	runner := NewMockRunner()
	s := newTestScheduler(runner)

	s.Start()
	defer s.Stop()

	runner.waitForCalls(t, 1)

	if err := s.Trigger(TriggerManual); err != nil {
		t.Fatalf("Expected trigger to be accepted, got %v", err)
	}
	runner.waitForCalls(t, 1)

	if runner.Calls() != 2 {
		t.Errorf("Expected 2 runs, got %d", runner.Calls())
	}
}

func TestScheduler_RetriesFailedRun(t *testing.T) {
	runner := NewMockRunner(errors.New("store unavailable"))
	s := newTestScheduler(runner)

	s.Start()
	defer s.Stop()

	runner.waitForCalls(t, 2)

	stats := waitForStats(t, s.RunLog(), func(st RunStats) bool { return st.Runs == 2 })
	if stats.Failed != 1 {
		t.Errorf("Expected 1 failed run, got %d", stats.Failed)
	}
	if stats.LastError != "" {
		t.Errorf("Expected last error cleared by the successful retry, got '%s'", stats.LastError)
	}
}

func TestScheduler_DoesNotRetryRunInProgress(t *testing.T) {
	runner := NewMockRunner(pipeline.ErrRunInProgress)
	s := newTestScheduler(runner)

	s.Start()
	runner.waitForCalls(t, 1)
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if runner.Calls() != 1 {
		t.Errorf("Expected no retry for a skipped run, got %d calls", runner.Calls())
	}
	if skipped := s.RunLog().Stats().Skipped; skipped != 1 {
		t.Errorf("Expected 1 skipped run, got %d", skipped)
	}
}

func TestScheduler_EnqueueAfterStop(t *testing.T) {
	s := newTestScheduler(NewMockRunner())
	s.Start()
	s.Stop()

	if err := s.Trigger(TriggerManual); err == nil {
		t.Error("Expected error when enqueueing after stop")
	}
}

func TestScheduler_QueueFull(t *testing.T) {
	s := newTestScheduler(NewMockRunner())

	for i := 0; i < queueSize; i++ {
		if err := s.Trigger(TriggerManual); err != nil {
			t.Fatalf("Expected enqueue %d to succeed, got %v", i, err)
		}
	}

	if err := s.Trigger(TriggerManual); err == nil {
		t.Error("Expected error when queue is full")
	}
}

func TestBackoff(t *testing.T) {
	tests := map[int]time.Duration{
		1:  time.Second,
		2:  2 * time.Second,
		3:  4 * time.Second,
		10: maxRetryDelay,
	}

	for retry, expected := range tests {
		if got := backoff(retry); got != expected {
			t.Errorf("backoff(%d): expected %v, got %v", retry, expected, got)
		}
	}
}
