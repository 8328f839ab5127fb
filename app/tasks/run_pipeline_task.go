package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-relay/app/pipeline"
)

var _ Task = (*RunPipelineTask)(nil)

// RunPipelineTask loads the current settings and runs the pipeline once.
type RunPipelineTask struct {
	attempts
	runner       Runner
	loadSettings SettingsLoader
	runLog       *RunLog
}

func NewRunPipelineTask(trigger Trigger, runner Runner, loadSettings SettingsLoader, runLog *RunLog) *RunPipelineTask {
	return &RunPipelineTask{
		attempts:     newAttempts(trigger),
		runner:       runner,
		loadSettings: loadSettings,
		runLog:       runLog,
	}
}

func (t *RunPipelineTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	started := time.Now()

	s, err := t.loadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	summary, err := t.runner.RunOnce(ctx, s)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		slog.Info("Run skipped, another run is in progress", "trigger", string(t.trigger), "id", t.id)
		if t.runLog != nil {
			t.runLog.RecordSkip()
		}
		return nil
	}

	if t.runLog != nil {
		t.runLog.RecordRun(t.trigger, summary, err)
	}

	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	slog.Info("Run completed",
		"trigger", string(t.trigger),
		"id", t.id,
		"duration", time.Since(started),
		"sources", summary.Sources,
		"sources_failed", summary.SourcesFailed,
		"items", summary.Items,
		"sent", summary.Count(pipeline.OutcomeSent),
		"deduped", summary.Count(pipeline.OutcomeDeduped),
		"keyword_rejected", summary.Count(pipeline.OutcomeKeywordRejected),
		"classifier_rejected", summary.Count(pipeline.OutcomeClassifierRejected),
		"send_failed", summary.Count(pipeline.OutcomeSendFailed))

	return nil
}
