package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for the security log.
type Repository interface {
	Insert(ctx context.Context, event Event, at time.Time) error
	Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert appends one security event.
func (r *PGRepository) Insert(ctx context.Context, event Event, at time.Time) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO security_events (event_type, user_id, ip_address, user_agent, details, severity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(event.Type), event.UserID, event.IP, event.UserAgent, details, string(event.Severity), at)
	return err
}

// Window returns a page of entries newest first, filtered as requested.
func (r *PGRepository) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, event_type, user_id, ip_address, user_agent, details, severity, created_at
		 FROM security_events
		 WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		   AND ($2::timestamptz IS NULL OR created_at <= $2)
		   AND ($3::text = '' OR event_type = $3)
		   AND ($4::text = '' OR severity = $4)
		   AND ($5::bigint = 0 OR user_id = $5)
		 ORDER BY created_at DESC
		 OFFSET $6 LIMIT $7`,
		nullableTime(filters.From), nullableTime(filters.To),
		string(filters.Type), string(filters.Severity), filters.UserID,
		offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry   Entry
			details []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.UserID, &entry.IP, &entry.UserAgent, &details, &entry.Severity, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// DeleteOlderThan purges entries past the retention cutoff.
func (r *PGRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
