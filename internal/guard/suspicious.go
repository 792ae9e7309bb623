package guard

import (
	"net/http"
	"strings"

	"github.com/jobhunter/jobhunter/internal/audit"
)

// Heuristic deny-lists. Detection is log-only: a match raises a security
// event but never blocks, so a false positive cannot break a legitimate
// client. Patterns are matched case-insensitively.
var suspiciousAgents = []string{
	"scanner",
	"crawler",
	"bot",
	"spider",
	"hack",
	"exploit",
	"sql",
	"script",
}

var sqlInjectionFragments = []string{
	"union select",
	"drop table",
	"insert into",
	"1=1",
	"1' or '1",
	"script>",
	"<script",
}

// DetectSuspicious inspects the user agent and the raw query string for
// scanner signatures and SQL injection probes.
func (p *Pipeline) DetectSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ip, userAgent := clientIP(r), r.UserAgent()
		loweredAgent := strings.ToLower(userAgent)
		for _, fragment := range suspiciousAgents {
			if strings.Contains(loweredAgent, fragment) {
				p.audit.Log(r.Context(), audit.Event{
					Type: audit.EventSuspiciousActivity, IP: ip, UserAgent: userAgent,
					Severity: audit.SeverityHigh,
					Details:  map[string]any{"match": fragment, "path": r.URL.Path},
				})
				break
			}
		}

		query := strings.ToLower(r.URL.RawQuery)
		if query != "" {
			for _, fragment := range sqlInjectionFragments {
				if strings.Contains(query, fragment) {
					p.audit.Log(r.Context(), audit.Event{
						Type: audit.EventSQLInjectionAttempt, IP: ip, UserAgent: userAgent,
						Severity: audit.SeverityCritical,
						Details:  map[string]any{"match": fragment, "path": r.URL.Path},
					})
					break
				}
			}
		}

		next.ServeHTTP(w, r)
	})
}
