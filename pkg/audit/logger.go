package audit

import (
	"context"
	"net/http"
	"strings"
)

// Logger is the interface for activity and audit logging
type Logger interface {
	// LogActivity appends a tenant activity entry
	LogActivity(ctx context.Context, entry *ActivityLog) error

	// LogAdminAction appends an administrative audit entry
	LogAdminAction(ctx context.Context, entry *AdminAuditLog) error

	// Close closes the logger and flushes any buffered entries
	Close() error
}

// contextKey is the type for context keys
type contextKey string

const (
	// AuditLoggerKey is the context key for the audit logger
	AuditLoggerKey contextKey = "audit_logger"

	// RequestInfoKey is the context key for the captured request metadata
	RequestInfoKey contextKey = "audit_request_info"
)

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(AuditLoggerKey).(Logger); ok {
		return logger
	}
	// Return a no-op logger if none is set
	return &noOpLogger{}
}

// RequestInfo is the request metadata attached to activity entries
type RequestInfo struct {
	IPAddress string
	UserAgent string
	Path      string
	Method    string
	UserID    *int64
}

// NewRequestInfo captures the metadata of r
func NewRequestInfo(r *http.Request) RequestInfo {
	return RequestInfo{
		IPAddress: ClientIP(r),
		UserAgent: truncate(r.UserAgent(), MaxUserAgentLength),
		Path:      r.URL.Path,
		Method:    r.Method,
	}
}

// WithRequestInfo adds request metadata to the context
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, RequestInfoKey, info)
}

// WithActor attributes activity recorded under ctx to userID
func WithActor(ctx context.Context, userID int64) context.Context {
	info, _ := RequestInfoFromContext(ctx)
	info.UserID = &userID
	return WithRequestInfo(ctx, info)
}

// RequestInfoFromContext returns the request metadata, if any
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(RequestInfoKey).(RequestInfo)
	return info, ok
}

// noOpLogger is a logger that does nothing (used when no logger is configured)
type noOpLogger struct{}

func (l *noOpLogger) LogActivity(ctx context.Context, entry *ActivityLog) error {
	return nil
}

func (l *noOpLogger) LogAdminAction(ctx context.Context, entry *AdminAuditLog) error {
	return nil
}

func (l *noOpLogger) Close() error {
	return nil
}

// ClientIP returns the first X-Forwarded-For entry, else the remote address
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return r.RemoteAddr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// fillRequestInfo copies request metadata from ctx onto entry where unset
func fillRequestInfo(ctx context.Context, entry *ActivityLog) {
	info, ok := RequestInfoFromContext(ctx)
	if !ok {
		return
	}
	if entry.IPAddress == "" {
		entry.IPAddress = info.IPAddress
	}
	if entry.UserAgent == "" {
		entry.UserAgent = info.UserAgent
	}
	if entry.Path == "" {
		entry.Path = info.Path
	}
	if entry.Method == "" {
		entry.Method = info.Method
	}
	if entry.UserID == nil {
		entry.UserID = info.UserID
	}
}
