package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultInterval    = 300 * time.Second
	DefaultTaskTimeout = 5 * time.Minute

	queueSize     = 16
	maxRetryDelay = 30 * time.Second
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

// Scheduler runs tasks on a single worker, so pipeline runs never overlap
// within one process.
type Scheduler struct {
	runner       Runner
	loadSettings SettingsLoader
	runLog       *RunLog
	interval     time.Duration
	taskTimeout  time.Duration
	retryDelay   func(retry int) time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	taskQueue    chan Task
}

type SchedulerOptions struct {
	Runner       Runner
	LoadSettings SettingsLoader
	RunLog       *RunLog
	Interval     time.Duration
	TaskTimeout  time.Duration
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		runner:       opts.Runner,
		loadSettings: opts.LoadSettings,
		runLog:       opts.RunLog,
		interval:     opts.Interval,
		taskTimeout:  opts.TaskTimeout,
		retryDelay:   backoff,
		ctx:          ctx,
		cancel:       cancel,
		taskQueue:    make(chan Task, queueSize),
	}

	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.taskTimeout <= 0 {
		s.taskTimeout = DefaultTaskTimeout
	}
	if s.runLog == nil {
		s.runLog = NewRunLog()
	}

	return s
}

func (s *Scheduler) RunLog() *RunLog {
	return s.runLog
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.worker()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueRun(TriggerStartup)

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueRun(TriggerSchedule)
			}
		}
	}()

	slog.Info("Scheduler started", "interval", s.interval.String())
}

// Stop cancels the running task between items and waits for the worker.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task Task) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) Trigger(trigger Trigger) error {
	return s.EnqueueTask(NewRunPipelineTask(trigger, s.runner, s.loadSettings, s.runLog))
}

func (s *Scheduler) enqueueRun(trigger Trigger) {
	if err := s.Trigger(trigger); err != nil {
		slog.Warn("Failed to enqueue RunPipelineTask", "trigger", string(trigger), "error", err)
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(task Task) {
	taskCtx, cancel := context.WithTimeout(s.ctx, s.taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		return
	}

	slog.Error("Task execution failed", "trigger", string(task.Trigger()), "id", task.ID(), "error", err)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.Debug("Task interrupted, not retrying", "id", task.ID())
		return
	}

	retry, ok := task.Retry()
	if !ok {
		slog.Error("Task failed after maximum retries", "id", task.ID(), "retries", retry, "last_error", err)
		return
	}

	retryDelay := s.retryDelay(retry)
	slog.Warn("Task retry scheduled", "trigger", string(task.Trigger()), "id", task.ID(), "retry", retry, "delay", retryDelay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(retryDelay)
		defer timer.Stop()

		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "id", task.ID())
		case <-timer.C:
			if retryErr := s.EnqueueTask(task); retryErr != nil {
				slog.Error("Failed to re-enqueue task for retry", "id", task.ID(), "retry", retry, "error", retryErr)
			}
		}
	}()
}

func backoff(retry int) time.Duration {
	delay := time.Duration(1<<uint(retry-1)) * time.Second
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
