package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	TokenID       string
	UserID        string
	Email         string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// Audit event types
const (
	EventLoginTokenIssued    = "login_token_issued"
	EventLoginTokenConfirmed = "login_token_confirmed"
	EventLoginTokenRejected  = "login_token_rejected"
	EventPasswordLogin       = "password_login"
	EventLockout             = "lockout"
	EventTokenRefresh        = "token_refresh"
)

// AuditLogger writes audit records through slog
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		now:    time.Now,
	}
}

// Log records event. Failures are logged at warn level.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}

	if event.TokenID != "" {
		attrs = append(attrs, slog.String("token_id", TokenIDPrefix(event.TokenID)))
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogLoginToken records a login-token lifecycle event
func (al *AuditLogger) LogLoginToken(ctx context.Context, eventType, tokenID, userID, ipAddress string, success bool, reason string) {
	al.Log(ctx, AuditEvent{
		EventType:     eventType,
		TokenID:       tokenID,
		UserID:        userID,
		IPAddress:     ipAddress,
		Success:       success,
		FailureReason: reason,
	})
}

// LogPasswordAttempt records a password login attempt
func (al *AuditLogger) LogPasswordAttempt(ctx context.Context, email, userID, ipAddress, userAgent string, success bool, reason string) {
	al.Log(ctx, AuditEvent{
		EventType:     EventPasswordLogin,
		Email:         email,
		UserID:        userID,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		Success:       success,
		FailureReason: reason,
	})
}
