package audit

import (
	"context"
	"log/slog"
	"time"
)

// Service writes and queries the security event log.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the audit service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Log appends a security event. Failures are swallowed: the primary
// operation must never depend on audit-log availability.
func (s *Service) Log(ctx context.Context, event Event) {
	if s == nil || s.repo == nil {
		return
	}
	if event.Severity == "" {
		event.Severity = SeverityMedium
	}
	if err := s.repo.Insert(ctx, event, s.now().UTC()); err != nil {
		if s.logger != nil {
			s.logger.Warn("security event write failed",
				slog.String("event_type", string(event.Type)),
				slog.Any("error", err))
		}
	}
}

// TimelineFilters narrows a timeline query.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Type     EventType
	Severity Severity
	UserID   int64
	Page     int
	PageSize int
}

// PagingInfo describes the returned page.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result wraps a timeline page.
type Result struct {
	Entries []Entry
	Paging  PagingInfo
}

// Timeline fetches a page of events, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	// Fetch one extra row to detect a following page.
	entries, err := s.repo.Window(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}

// Purge removes events older than the retention window and reports the
// number of deleted rows.
func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-retention)
	return s.repo.DeleteOlderThan(ctx, cutoff)
}
