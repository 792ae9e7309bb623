// Package guard implements the request security pipeline: bearer token
// authentication, CSRF enforcement, suspicious traffic detection, and
// response observation. Stages run in that order; each stage writes to
// the security log and either rejects the request or passes it on.
package guard

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/jobhunter/jobhunter/internal/audit"
	"github.com/jobhunter/jobhunter/internal/auth"
	"github.com/jobhunter/jobhunter/internal/observability"
	"github.com/jobhunter/jobhunter/internal/platform/httpx"
	"github.com/jobhunter/jobhunter/internal/shared"
)

// Paths skipped by every stage. Probes and static assets carry no
// identity and gain nothing from the pipeline.
var exemptPrefixes = []string{
	"/auth/health",
	"/healthz",
	"/metrics",
	"/static/",
	"/favicon.ico",
}

// Pipeline bundles the middleware stages with their dependencies.
type Pipeline struct {
	logger  *slog.Logger
	tokens  *auth.TokenService
	csrf    *shared.CSRFManager
	audit   *audit.Service
	metrics *observability.Metrics
}

// NewPipeline constructs a Pipeline instance.
func NewPipeline(logger *slog.Logger, tokens *auth.TokenService, csrf *shared.CSRFManager, auditSvc *audit.Service, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{logger: logger, tokens: tokens, csrf: csrf, audit: auditSvc, metrics: metrics}
}

// identityCarrier lets Observe see the identity Authenticate resolves,
// even though Authenticate attaches it to a derived context the outer
// stage never receives. Observe plants the carrier, Authenticate fills
// it.
type identityCarrier struct {
	rc *shared.RequestContext
}

type carrierKey struct{}

func exempt(path string) bool {
	for _, prefix := range exemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Authenticate resolves the bearer token into a request identity. A
// missing token yields an anonymous identity and the request proceeds;
// individual routes decide whether anonymous is acceptable. A token that
// is present but fails verification is rejected outright.
func (p *Pipeline) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ip, userAgent := clientIP(r), r.UserAgent()
		rc := &shared.RequestContext{IP: ip, UserAgent: userAgent}

		raw := bearerToken(r)
		if raw != "" {
			user, claims, err := p.tokens.Verify(r.Context(), raw)
			if err != nil {
				p.audit.Log(r.Context(), audit.Event{
					Type: audit.EventInvalidToken, IP: ip, UserAgent: userAgent,
					Severity: audit.SeverityMedium,
					Details:  map[string]any{"reason": err.Error(), "path": r.URL.Path},
				})
				httpx.RespondError(w, err)
				return
			}
			rc = &shared.RequestContext{
				UserID:      user.ID,
				Username:    user.Username,
				Roles:       claims.Roles,
				Permissions: claims.Permissions,
				TokenID:     claims.ID,
				IP:          ip,
				UserAgent:   userAgent,
			}
		}

		if carrier, ok := r.Context().Value(carrierKey{}).(*identityCarrier); ok {
			carrier.rc = rc
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithRequest(r.Context(), rc)))
	})
}

// RequireAuth rejects anonymous requests. Mount after Authenticate.
func (p *Pipeline) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shared.RequestFromContext(r.Context()).Authenticated() {
			httpx.Error(w, http.StatusUnauthorized, "authentication_required", "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CSRF enforces the single-use token on state-changing methods. Bearer
// authenticated requests are exempt: the token already proves intent and
// cannot be sent by a browser cross-site form. Cookie-session flows
// present either a database-backed token or the session fallback token.
func (p *Pipeline) CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !stateChanging(r.Method) || exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		rc := shared.RequestFromContext(r.Context())
		if rc == nil {
			rc = &shared.RequestContext{IP: clientIP(r), UserAgent: r.UserAgent()}
		}
		if rc.TokenID != "" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get(shared.CSRFHeader)
		if token == "" {
			token = r.PostFormValue(shared.CSRFFormField)
		}

		sess := shared.SessionFromContext(r.Context())
		if token != "" {
			sessionID := ""
			if sess != nil {
				sessionID = sess.ID
			}
			if err := p.csrf.Validate(r.Context(), token, rc.UserIDPtr(), sessionID); err == nil {
				next.ServeHTTP(w, r)
				return
			}
			if sess != nil && p.csrf.VerifySessionToken(sess, token) == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		p.metrics.RecordCSRFViolation()
		p.audit.Log(r.Context(), audit.Event{
			Type: audit.EventCSRFViolation, UserID: rc.UserIDPtr(),
			IP: rc.IP, UserAgent: rc.UserAgent, Severity: audit.SeverityHigh,
			Details: map[string]any{"path": r.URL.Path, "method": r.Method},
		})
		httpx.RespondError(w, shared.ErrCSRFViolation)
	})
}

func stateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
