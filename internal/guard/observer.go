package guard

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jobhunter/jobhunter/internal/audit"
	"github.com/jobhunter/jobhunter/internal/shared"
)

// slowThreshold marks requests worth flagging in the security log.
const slowThreshold = 2 * time.Second

// Observe records slow requests and server error responses after the
// handler finishes. It runs outermost among the guard stages so the
// timing covers the whole pipeline.
func (p *Pipeline) Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		carrier := &identityCarrier{}
		r = r.WithContext(context.WithValue(r.Context(), carrierKey{}, carrier))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		rc := carrier.rc
		if rc == nil {
			rc = shared.RequestFromContext(r.Context())
		}
		var userID *int64
		if rc != nil {
			userID = rc.UserIDPtr()
		}
		ip, userAgent := clientIP(r), r.UserAgent()

		if elapsed > slowThreshold {
			p.audit.Log(r.Context(), audit.Event{
				Type: audit.EventSlowRequest, UserID: userID, IP: ip, UserAgent: userAgent,
				Severity: audit.SeverityLow,
				Details:  map[string]any{"path": r.URL.Path, "duration_ms": elapsed.Milliseconds()},
			})
		}
		if ww.Status() >= http.StatusInternalServerError {
			p.audit.Log(r.Context(), audit.Event{
				Type: audit.EventErrorResponse, UserID: userID, IP: ip, UserAgent: userAgent,
				Severity: audit.SeverityMedium,
				Details:  map[string]any{"path": r.URL.Path, "status": ww.Status()},
			})
		}
	})
}
