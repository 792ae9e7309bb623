// Package jobs defines the background task types and the Asynq worker
// that processes them.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jobhunter/jobhunter/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAuditPurge prunes security events past the retention window.
	TaskTypeAuditPurge = "audit:purge"
	// TaskTypePromptEvent persists one prompt-tracker telemetry event.
	TaskTypePromptEvent = "telemetry:prompt"
)

// AuditPurgePayload carries the retention window for a purge run.
type AuditPurgePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditPurgeTask constructs an Asynq task.
func NewAuditPurgeTask(payload AuditPurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditPurge, data), nil
}

// NewAuditPurgeHandler returns the handler for TaskTypeAuditPurge tasks.
func NewAuditPurgeHandler(svc *audit.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AuditPurgePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.RetentionDays <= 0 {
			payload.RetentionDays = 90
		}
		deleted, err := svc.Purge(ctx, time.Duration(payload.RetentionDays)*24*time.Hour)
		if err != nil {
			return err
		}
		logger.Info("audit purge completed",
			slog.Int("retention_days", payload.RetentionDays),
			slog.Int64("deleted", deleted))
		return nil
	}
}

// PromptEventPayload is one prompt-tracker telemetry event.
type PromptEventPayload struct {
	UserID     *int64         `json:"user_id,omitempty"`
	Kind       string         `json:"kind"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewPromptEventTask constructs an Asynq task.
func NewPromptEventTask(payload PromptEventPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePromptEvent, data), nil
}

// PromptEventSink persists telemetry events drained from the queue.
type PromptEventSink interface {
	Store(ctx context.Context, payload PromptEventPayload) error
}

// NewPromptEventHandler returns the handler for TaskTypePromptEvent tasks.
func NewPromptEventHandler(sink PromptEventSink, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload PromptEventPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := sink.Store(ctx, payload); err != nil {
			logger.Warn("prompt event store failed", slog.Any("error", err))
			return err
		}
		return nil
	}
}
