package logger

import (
	"context"
	"log/slog"
	"time"
)

// Audit categories
const (
	AuditTypeAuth     = "auth"
	AuditTypeOTP      = "otp"
	AuditTypeLockout  = "lockout"
	AuditTypePassword = "password"
	AuditTypeAccount  = "account"
)

// Audit event types
const (
	EventLogin              = "login"
	EventLoginOTPVerified   = "login_otp_verified"
	EventOTPIssued          = "otp_issued"
	EventOTPDeliveryFailed  = "otp_delivery_failed"
	EventOTPRejected        = "otp_rejected"
	EventOTPBlocked         = "otp_blocked"
	EventLockoutRecorded    = "failed_attempt_recorded"
	EventLockoutCleared     = "lockout_cleared"
	EventPermanentLock      = "permanent_lock"
	EventPasswordReset      = "password_reset"
	EventPasswordReuse      = "password_reuse_rejected"
	EventTokenRefreshed     = "token_refreshed"
	EventLogout             = "logout"
	EventAccountCreated     = "account_created"
	EventStaleOTPsCompacted = "stale_otps_compacted"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	AuditType     string
	EventType     string
	UserID        string
	IPAddress     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security events as structured "audit" records
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger, now: time.Now}
}

// Log emits one audit record. Failures are logged at warn level.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	if al == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("audit_type", event.AuditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
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

// LogAuthAttempt logs a login or token step
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, eventType, userID, ipAddress string, success bool, reason string) {
	al.Log(ctx, AuditEvent{
		AuditType:     AuditTypeAuth,
		EventType:     eventType,
		UserID:        userID,
		IPAddress:     ipAddress,
		Success:       success,
		FailureReason: reason,
	})
}

// LogLockout logs a change to an account's lockout counters
func (al *AuditLogger) LogLockout(ctx context.Context, eventType, userID string, failedAttempts int) {
	al.Log(ctx, AuditEvent{
		AuditType: AuditTypeLockout,
		EventType: eventType,
		UserID:    userID,
		Success:   eventType == EventLockoutCleared,
		Metadata:  map[string]string{"failed_attempts": itoa(failedAttempts)},
	})
}

// LogPasswordChange logs password change events
func (al *AuditLogger) LogPasswordChange(ctx context.Context, userID, ipAddress string, success bool, reason string) {
	eventType := EventPasswordReset
	if !success && reason == EventPasswordReuse {
		eventType = EventPasswordReuse
	}
	al.Log(ctx, AuditEvent{
		AuditType:     AuditTypePassword,
		EventType:     eventType,
		UserID:        userID,
		IPAddress:     ipAddress,
		Success:       success,
		FailureReason: reason,
	})
}
