package telemetry

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobhunter/jobhunter/jobs"
)

// PGSink persists drained prompt events. Implements jobs.PromptEventSink.
type PGSink struct {
	pool *pgxpool.Pool
}

// NewPGSink constructs a PostgreSQL sink.
func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

// Store inserts one event row.
func (s *PGSink) Store(ctx context.Context, payload jobs.PromptEventPayload) error {
	var details []byte
	if payload.Details != nil {
		var err error
		details, err = json.Marshal(payload.Details)
		if err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prompt_events (user_id, kind, details, occurred_at)
		 VALUES ($1, $2, $3, $4)`,
		payload.UserID, payload.Kind, details, payload.OccurredAt)
	return err
}

var _ jobs.PromptEventSink = (*PGSink)(nil)
