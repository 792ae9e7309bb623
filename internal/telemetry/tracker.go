// Package telemetry implements the prompt tracker, a fire-and-forget
// event pipe kept off the request path. Events flow through a bounded
// in-process queue to the background job queue; when the buffer is full
// the event is dropped rather than blocking a handler.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/jobhunter/jobhunter/jobs"
)

const defaultBuffer = 1024

// Tracker buffers prompt events and drains them to the job queue.
type Tracker struct {
	logger *slog.Logger
	client *jobs.Client
	events chan jobs.PromptEventPayload
	now    func() time.Time
}

// NewTracker constructs a Tracker with the given buffer size. Zero or
// negative means the default.
func NewTracker(logger *slog.Logger, client *jobs.Client, buffer int) *Tracker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Tracker{
		logger: logger,
		client: client,
		events: make(chan jobs.PromptEventPayload, buffer),
		now:    time.Now,
	}
}

// Track records one event. Never blocks: a full buffer drops the event
// and increments nothing but a log line.
func (t *Tracker) Track(kind string, userID *int64, details map[string]any) {
	if t == nil {
		return
	}
	payload := jobs.PromptEventPayload{
		UserID:     userID,
		Kind:       kind,
		Details:    details,
		OccurredAt: t.now().UTC(),
	}
	select {
	case t.events <- payload:
	default:
		t.logger.Warn("prompt tracker buffer full, event dropped", slog.String("kind", kind))
	}
}

// Run drains the buffer into the job queue until the context ends, then
// flushes whatever is still buffered.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			t.flush()
			return ctx.Err()
		case payload := <-t.events:
			t.submit(payload)
		}
	}
}

func (t *Tracker) flush() {
	for {
		select {
		case payload := <-t.events:
			t.submit(payload)
		default:
			return
		}
	}
}

func (t *Tracker) submit(payload jobs.PromptEventPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := t.client.EnqueuePromptEvent(ctx, payload); err != nil {
		t.logger.Warn("prompt event enqueue failed", slog.Any("error", err))
	}
}
