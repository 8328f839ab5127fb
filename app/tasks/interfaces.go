package tasks

import (
	"context"

	"github.com/lysyi3m/rss-relay/app/pipeline"
	"github.com/lysyi3m/rss-relay/app/settings"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application and the API to start runs.
// Example usage:
//
//	scheduler := NewScheduler(SchedulerOptions{Runner: p, LoadSettings: settings.Loader(path)})
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.Trigger(TriggerManual)
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task Task) error
	Trigger(trigger Trigger) error
}

// Runner performs one pipeline run.
type Runner interface {
	RunOnce(ctx context.Context, s settings.Settings) (pipeline.Summary, error)
}

type SettingsLoader func() (settings.Settings, error)
