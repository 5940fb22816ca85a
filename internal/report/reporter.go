package report

import (
	"context"
	"log/slog"
	"sync/atomic"

	"gitship/internal/deploy"
	"gitship/internal/history"
)

// Reporter emits one structured record per terminal attempt: a log
// line with the step summary, and a row in the history store. It
// never escalates sink failures into deployment failures; they are
// swallowed and counted instead.
type Reporter struct {
	Logger *slog.Logger
	Store  *history.Store // optional; nil disables persistence

	dropped atomic.Int64
}

// NewReporter creates a reporter. Store may be nil.
func NewReporter(logger *slog.Logger, store *history.Store) *Reporter {
	return &Reporter{Logger: logger, Store: store}
}

// Report emits the terminal attempt to all sinks.
func (r *Reporter) Report(ctx context.Context, attempt *deploy.Attempt) {
	durationMs := attempt.Duration().Milliseconds()

	steps := make([]slog.Attr, 0, len(attempt.Steps))
	for i, step := range attempt.Steps {
		steps = append(steps, slog.Group("",
			slog.Int("index", i),
			slog.String("command", step.Command),
			slog.Int("exit_code", step.ExitCode),
			slog.Int64("duration_ms", step.Duration.Milliseconds())))
	}

	r.Logger.LogAttrs(ctx, slog.LevelInfo, "deployment_attempt",
		slog.String("target", attempt.Target),
		slog.String("branch", attempt.Branch),
		slog.String("status", string(attempt.Status)),
		slog.Int64("duration_ms", durationMs),
		slog.Any("steps", steps))

	if r.Store == nil {
		return
	}

	record := &history.AttemptRecord{
		Target:      attempt.Target,
		Branch:      attempt.Branch,
		Status:      string(attempt.Status),
		StartedAt:   attempt.StartedAt,
		DurationMs:  &durationMs,
		CompletedAt: nil,
	}
	if !attempt.CompletedAt.IsZero() {
		completed := attempt.CompletedAt
		record.CompletedAt = &completed
	}
	if attempt.Err != nil {
		msg := attempt.Err.Error()
		record.ErrorMessage = &msg
	}
	for i, step := range attempt.Steps {
		record.Steps = append(record.Steps, history.StepRecord{
			Index:      i,
			Command:    step.Command,
			ExitCode:   step.ExitCode,
			Output:     step.Output,
			DurationMs: step.Duration.Milliseconds(),
		})
	}

	if _, err := r.Store.RecordAttempt(ctx, record); err != nil {
		r.dropped.Add(1)
		r.Logger.Error("failed to record attempt in history", "error", err, "target", attempt.Target)
	}
}

// RecordRejected notes a deployment request that was turned away
// because an attempt was already in flight.
func (r *Reporter) RecordRejected(ctx context.Context, targetName, branch string) {
	r.Logger.Warn("deployment rejected, already in progress", "target", targetName, "branch", branch)

	if r.Store == nil {
		return
	}

	msg := "deployment already in progress"
	if _, err := r.Store.RecordAttempt(ctx, &history.AttemptRecord{
		Target:       targetName,
		Branch:       branch,
		Status:       string(deploy.StatusRejected),
		ErrorMessage: &msg,
	}); err != nil {
		r.dropped.Add(1)
		r.Logger.Error("failed to record rejection in history", "error", err, "target", targetName)
	}
}

// Dropped returns how many records failed to reach the history sink.
func (r *Reporter) Dropped() int64 {
	return r.dropped.Load()
}
