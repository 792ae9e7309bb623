package users

import (
	"context"

	"github.com/jobhunter/jobhunter/internal/audit"
)

// Service handles account administration.
type Service struct {
	repo  RepositoryPort
	audit *audit.Service
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, auditSvc *audit.Service) *Service {
	return &Service{repo: repo, audit: auditSvc}
}

// List returns accounts matching the filters.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Account, error) {
	return s.repo.List(ctx, filters)
}

// Get fetches one account.
func (s *Service) Get(ctx context.Context, id int64) (*Account, error) {
	return s.repo.FindByID(ctx, id)
}

// SetActive toggles an account's active flag and records who did it.
func (s *Service) SetActive(ctx context.Context, id int64, active bool, actor *int64) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.Event{
		Type: audit.EventUserModified, UserID: &id, Severity: audit.SeverityMedium,
		Details: map[string]any{"is_active": active, "modified_by": actor},
	})
	return nil
}

// Unlock lifts an account lockout ahead of its expiry.
func (s *Service) Unlock(ctx context.Context, id int64, actor *int64) error {
	if err := s.repo.Unlock(ctx, id); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.Event{
		Type: audit.EventAccountUnlocked, UserID: &id, Severity: audit.SeverityMedium,
		Details: map[string]any{"unlocked_by": actor},
	})
	return nil
}
