package common

import "context"

// Session is the per-request authentication state resolved from the
// session cookie. It replaces any process-wide "logged in" flag.
type Session struct {
	ID            string
	Authenticated bool
}

type contextKey int

const sessionContextKey contextKey = iota

// WithSession stores a Session in the request context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// SessionFromContext retrieves the Session from context, or nil if absent.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey).(*Session)
	return s
}

// IsAuthenticated reports whether the request context carries an authenticated session.
func IsAuthenticated(ctx context.Context) bool {
	s := SessionFromContext(ctx)
	return s != nil && s.Authenticated
}
