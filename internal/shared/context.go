package shared

import "context"

// RequestContext carries the identity resolved by the request guard. It is
// built once per request and never mutated afterwards; downstream handlers
// and middleware read it through the context.
type RequestContext struct {
	UserID      int64
	Username    string
	Roles       []string
	Permissions []string
	TokenID     string
	IP          string
	UserAgent   string
}

// Authenticated reports whether a verified bearer token backed the request.
func (rc *RequestContext) Authenticated() bool {
	return rc != nil && rc.UserID != 0
}

// HasRole reports whether the token snapshot carried the named role.
func (rc *RequestContext) HasRole(name string) bool {
	if rc == nil {
		return false
	}
	for _, r := range rc.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// UserIDPtr returns the user ID for audit details, nil when anonymous.
func (rc *RequestContext) UserIDPtr() *int64 {
	if !rc.Authenticated() {
		return nil
	}
	id := rc.UserID
	return &id
}

type requestContextKey struct{}

type sessionContextKey struct{}

// ContextWithRequest stores the request context.
func ContextWithRequest(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestFromContext extracts the request context, nil when absent.
func RequestFromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}
