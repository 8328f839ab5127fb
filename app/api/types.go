package api

import (
	"context"

	"github.com/lysyi3m/rss-relay/app/tasks"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type StatsSource interface {
	Stats() tasks.RunStats
}

type Handler struct {
	scheduler tasks.TaskSchedulerInterface
	runLog    StatsSource
	store     Pinger
	storeName string
	version   string
}
