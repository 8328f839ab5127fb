package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-relay/app/tasks"
)

const pingTimeout = 2 * time.Second

func NewHandler(scheduler tasks.TaskSchedulerInterface, runLog StatsSource, store Pinger, storeName, version string) *Handler {
	return &Handler{
		scheduler: scheduler,
		runLog:    runLog,
		store:     store,
		storeName: storeName,
		version:   version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
	}

	storeHealth := map[string]interface{}{
		"type":   h.storeName,
		"status": "healthy",
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		slog.Error("Store health check failed", "store", h.storeName, "error", err)
		storeHealth["status"] = "unhealthy"
		storeHealth["error"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	health["store"] = storeHealth

	c.JSON(status, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.runLog.Stats())
}

func (h *Handler) APITriggerRun(c *gin.Context) {
	if err := h.scheduler.Trigger(tasks.TriggerManual); err != nil {
		slog.Error("Error enqueueing run task", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to enqueue run",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Run enqueued",
	})
}
