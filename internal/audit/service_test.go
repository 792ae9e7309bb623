package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryAuditRepo struct {
	entries   []Entry
	nextID    int64
	insertErr error
}

func (r *memoryAuditRepo) Insert(ctx context.Context, event Event, at time.Time) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.nextID++
	r.entries = append(r.entries, Entry{
		ID:        r.nextID,
		Type:      event.Type,
		UserID:    event.UserID,
		IP:        event.IP,
		UserAgent: event.UserAgent,
		Details:   event.Details,
		Severity:  event.Severity,
		CreatedAt: at,
	})
	return nil
}

func (r *memoryAuditRepo) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error) {
	var matched []Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if filters.Type != "" && e.Type != filters.Type {
			continue
		}
		if filters.Severity != "" && e.Severity != filters.Severity {
			continue
		}
		matched = append(matched, e)
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *memoryAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var kept []Entry
	var deleted int64
	for _, e := range r.entries {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return deleted, nil
}

func TestLogDefaultsSeverityAndSwallowsErrors(t *testing.T) {
	repo := &memoryAuditRepo{}
	svc := NewService(repo, nil)

	svc.Log(context.Background(), Event{Type: EventLoginSuccess})
	require.Len(t, repo.entries, 1)
	require.Equal(t, SeverityMedium, repo.entries[0].Severity)

	repo.insertErr = errors.New("db down")
	svc.Log(context.Background(), Event{Type: EventLoginFailed})
	require.Len(t, repo.entries, 1)
}

func TestTimelineDetectsNextPage(t *testing.T) {
	repo := &memoryAuditRepo{}
	svc := NewService(repo, nil)
	for i := 0; i < 25; i++ {
		svc.Log(context.Background(), Event{Type: EventLoginFailed, Severity: SeverityMedium})
	}

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, result.Entries, 20)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, result.Entries, 5)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
}

func TestTimelineCapsPageSize(t *testing.T) {
	repo := &memoryAuditRepo{}
	svc := NewService(repo, nil)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, 100, result.Paging.PageSize)
}

func TestPurgeDeletesOnlyExpired(t *testing.T) {
	repo := &memoryAuditRepo{}
	svc := NewService(repo, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	svc.now = func() time.Time { return base.Add(-100 * 24 * time.Hour) }
	svc.Log(context.Background(), Event{Type: EventLoginFailed})
	svc.now = func() time.Time { return base }
	svc.Log(context.Background(), Event{Type: EventLoginSuccess})

	deleted, err := svc.Purge(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
	require.Len(t, repo.entries, 1)
	require.Equal(t, EventLoginSuccess, repo.entries[0].Type)
}
