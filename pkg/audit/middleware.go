package audit

import (
	"net/http"
)

// Middleware captures request metadata for activity entries recorded while
// the request is served
type Middleware struct {
	logger Logger
}

// NewMiddleware creates a new audit middleware
func NewMiddleware(logger Logger) *Middleware {
	return &Middleware{logger: logger}
}

// Handler stores the logger and the request metadata on the context
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithRequestInfo(r.Context(), NewRequestInfo(r))
		if m.logger != nil {
			ctx = WithLogger(ctx, m.logger)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
