package tasks

import (
	"context"

	"github.com/google/uuid"
)

// Trigger names what caused a run.
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

const DefaultMaxRetries = 3

// Task is a unit of work queued on the Scheduler.
type Task interface {
	Execute(ctx context.Context) error
	ID() string
	Trigger() Trigger
	// Retry records a failed attempt. It returns the retry number, or false
	// once the retries are used up.
	Retry() (int, bool)
}

// attempts holds the identity and retry budget of a queued task.
type attempts struct {
	id         string
	trigger    Trigger
	retries    int
	maxRetries int
}

func newAttempts(trigger Trigger) attempts {
	return attempts{
		id:         uuid.NewString(),
		trigger:    trigger,
		maxRetries: DefaultMaxRetries,
	}
}

func (a *attempts) ID() string {
	return a.id
}

func (a *attempts) Trigger() Trigger {
	return a.trigger
}

func (a *attempts) Retry() (int, bool) {
	if a.retries >= a.maxRetries {
		return a.retries, false
	}
	a.retries++
	return a.retries, true
}
