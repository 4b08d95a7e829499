package devserver

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies a security-relevant action.
type AuditEvent string

const (
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditRefresh          AuditEvent = "refresh"
	AuditRefreshFailure   AuditEvent = "refresh_failure"
	AuditRefreshReuse     AuditEvent = "refresh_reuse"
	AuditJobSubmitted     AuditEvent = "job_submitted"
	AuditJobCancelled     AuditEvent = "job_cancelled"
	AuditCacheCleared     AuditEvent = "cache_cleared"
	AuditUserCreated      AuditEvent = "user_created"
	AuditUserDeleted      AuditEvent = "user_deleted"
)

// auditLogger writes audit events to slog and to the retained log ring
// served by /admin/logs.
type auditLogger struct {
	logger  *slog.Logger
	ring    *logRing
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger, ring *logRing, metrics *metricsCollector) *auditLogger {
	return &auditLogger{
		logger:  logger.With("component", "audit"),
		ring:    ring,
		metrics: metrics,
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	base = append(base, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", base...)
	if al.ring != nil {
		al.ring.add(slog.LevelInfo, "audit", string(event))
	}
	al.metrics.recordEvent(event)
}

// logUser is a convenience for events tied to a username.
func (al *auditLogger) logUser(event AuditEvent, r *http.Request, username string, extra ...slog.Attr) {
	al.log(event, r, append([]slog.Attr{slog.String("username", username)}, extra...)...)
}

// logFailure records a rejected attempt with its reason.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	al.log(event, r, append([]slog.Attr{slog.String("reason", reason)}, extra...)...)
}
