package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jobhunter/jobhunter/internal/platform/httpx"
)

// GuardFactory builds a permission-checking middleware. Injected to keep
// this package free of a dependency on the RBAC resolver, which itself
// writes to the audit log.
type GuardFactory func(permission string) func(http.Handler) http.Handler

// Handler exposes the security log timeline to administrators.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   GuardFactory
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard GuardFactory) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers audit routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard("audit.view"))
		r.Get("/", h.timeline)
	})
}

type timelineEntry struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	UserID    *int64         `json:"user_id,omitempty"`
	IP        string         `json:"ip"`
	UserAgent string         `json:"user_agent"`
	Details   map[string]any `json:"details,omitempty"`
	Severity  string         `json:"severity"`
	CreatedAt time.Time      `json:"created_at"`
}

type timelineResponse struct {
	Events   []timelineEntry `json:"events"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	HasNext  bool            `json:"has_next"`
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filters := TimelineFilters{
		Type:     EventType(query.Get("type")),
		Severity: Severity(query.Get("severity")),
	}
	if v := query.Get("page"); v != "" {
		filters.Page, _ = strconv.Atoi(v)
	}
	if v := query.Get("page_size"); v != "" {
		filters.PageSize, _ = strconv.Atoi(v)
	}
	if v := query.Get("user_id"); v != "" {
		filters.UserID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := query.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.From = t
		}
	}
	if v := query.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.To = t
		}
	}

	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	entries := make([]timelineEntry, 0, len(result.Entries))
	for _, e := range result.Entries {
		entries = append(entries, timelineEntry{
			ID:        e.ID,
			EventType: string(e.Type),
			UserID:    e.UserID,
			IP:        e.IP,
			UserAgent: e.UserAgent,
			Details:   e.Details,
			Severity:  string(e.Severity),
			CreatedAt: e.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, timelineResponse{
		Events:   entries,
		Page:     result.Paging.Page,
		PageSize: result.Paging.PageSize,
		HasNext:  result.Paging.HasNext,
	})
}
