package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/rss-relay/app/api"
	"github.com/lysyi3m/rss-relay/app/cfg"
	"github.com/lysyi3m/rss-relay/app/classifier"
	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/metrics"
	"github.com/lysyi3m/rss-relay/app/pipeline"
	"github.com/lysyi3m/rss-relay/app/settings"
	"github.com/lysyi3m/rss-relay/app/store"
	"github.com/lysyi3m/rss-relay/app/tasks"
	"github.com/lysyi3m/rss-relay/app/telegram"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	setupLogger(appCfg.Debug)
	metrics.Init()

	slog.Info("Starting RSS Relay", "version", appCfg.Version, "store", appCfg.Store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		Backend:       appCfg.Store,
		DBPath:        appCfg.DBPath,
		RedisAddr:     appCfg.RedisAddr,
		RedisPassword: appCfg.RedisPassword,
		RedisDB:       appCfg.RedisDB,
	})
	if err != nil {
		slog.Error("Failed to open store", "store", appCfg.Store, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	httpClient := &http.Client{}

	p := pipeline.New(pipeline.Deps{
		Fetcher: feed.NewFetcher(httpClient, appCfg.UserAgent, appCfg.FetchTimeout),
		Parser:  feed.NewParser(),
		Classifier: classifier.NewClient(classifier.Options{
			HTTPClient: httpClient,
			Timeout:    appCfg.ClassifyTimeout,
		}),
		Notifier: telegram.NewNotifier(telegram.Options{
			HTTPClient: httpClient,
			Token:      appCfg.BotToken,
			ChatID:     appCfg.ChannelID,
			Header:     appCfg.Header,
			Timeout:    appCfg.NotifyTimeout,
		}),
		Store:     st,
		Retention: appCfg.Retention,
		LeaseTTL:  appCfg.LeaseTTL,
	})

	loadSettings := settings.Loader(appCfg.SettingsFile)

	if appCfg.Once {
		if err := runOnce(ctx, p, loadSettings, appCfg.TaskTimeout()); err != nil {
			slog.Error("Run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	runLog := tasks.NewRunLog()
	scheduler := tasks.NewScheduler(tasks.SchedulerOptions{
		Runner:       p,
		LoadSettings: loadSettings,
		RunLog:       runLog,
		Interval:     appCfg.Interval(),
		TaskTimeout:  appCfg.TaskTimeout(),
	})
	scheduler.Start()

	handler := api.NewHandler(scheduler, runLog, st, appCfg.Store, appCfg.Version)
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	scheduler.Stop()

	slog.Info("RSS Relay shutdown complete")
}

func runOnce(ctx context.Context, p *pipeline.Pipeline, loadSettings tasks.SettingsLoader, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runLog := tasks.NewRunLog()
	return tasks.NewRunPipelineTask(tasks.TriggerManual, p, loadSettings, runLog).Execute(ctx)
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
