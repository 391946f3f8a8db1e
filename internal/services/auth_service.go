package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BradenHooton/collegeerp/internal/auth"
	"github.com/BradenHooton/collegeerp/internal/metrics"
	"github.com/BradenHooton/collegeerp/internal/models"
	pkgauth "github.com/BradenHooton/collegeerp/pkg/auth"
	pkghttp "github.com/BradenHooton/collegeerp/pkg/http"
	pkglogger "github.com/BradenHooton/collegeerp/pkg/logger"
)

const (
	statusSuccess = "success"

	msgInvalidCredentials = "Invalid credentials"
	msgInactive           = "Account is not active"
	msgDeliveryFailure    = "Failed to send verification OTP. Please try again."
	msgInvalidToken       = "Invalid or expired refresh token"
	msgInternal           = "An error occurred during authentication"
)

// TokenIssuer signs and validates the token pair handed out after login
type TokenIssuer interface {
	IssueTokenPair(account *models.Account) (*models.TokenPair, error)
	ValidateToken(token string) (*models.TokenClaims, error)
}

// TokenRevocationStore remembers revoked token IDs until the tokens expire
type TokenRevocationStore interface {
	RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// ClientInfo describes where a request came from
type ClientInfo struct {
	IP        string
	UserAgent string
}

// ChallengeResult confirms that an OTP was emailed. The code itself is never
// returned.
type ChallengeResult struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	MaskedEmail string `json:"masked_email,omitempty"`
}

// VerifyOTPResult is returned once the OTP step of a login succeeds
type VerifyOTPResult struct {
	Status       string                 `json:"status"`
	Message      string                 `json:"message"`
	AccessToken  string                 `json:"access_token"`
	RefreshToken string                 `json:"refresh_token"`
	User         *models.AccountSummary `json:"user"`
}

// StatusResult is a bare status/message response
type StatusResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TokenResult carries a rotated token pair
type TokenResult struct {
	Status       string `json:"status"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthServiceDeps are the collaborators of AuthService. Metrics, Timing and
// Tracer are optional.
type AuthServiceDeps struct {
	Accounts    AccountRepository
	Lockout     *LockoutService
	OTP         *OTPService
	Passwords   *PasswordService
	Mailer      EmailSender
	Tokens      TokenIssuer
	Revocations TokenRevocationStore
	Timing      *auth.TimingDelay
	Logger      *slog.Logger
	AuditLogger *pkglogger.AuditLogger
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
}

// AuthService drives the login and password-reset flows. Every failure it
// returns is a *models.AuthFailure; store faults and panics become
// ErrInternalServer with a generic message.
type AuthService struct {
	accounts    AccountRepository
	lockout     *LockoutService
	otp         *OTPService
	passwords   *PasswordService
	mailer      EmailSender
	tokens      TokenIssuer
	revocations TokenRevocationStore
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(deps AuthServiceDeps) *AuthService {
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("collegeerp/auth")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		accounts:    deps.Accounts,
		lockout:     deps.Lockout,
		otp:         deps.OTP,
		passwords:   deps.Passwords,
		mailer:      deps.Mailer,
		tokens:      deps.Tokens,
		revocations: deps.Revocations,
		timing:      deps.Timing,
		logger:      logger,
		auditLogger: deps.AuditLogger,
		metrics:     deps.Metrics,
		tracer:      tracer,
		now:         time.Now,
	}
}

// Login checks the password of handle and, on success, emails a login OTP.
// A wrong password is counted towards the lockout tiers.
func (s *AuthService) Login(ctx context.Context, handle, secret string, client ClientInfo) (result *ChallengeResult, err error) {
	id := NormalizeAccountID(handle)
	start := time.Now()

	ctx, end := s.begin(ctx, "login", id)
	defer func() {
		s.metrics.ObserveLogin(outcomeOf(err))
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.EventLogin, id, client.IP, err == nil, outcomeOf(err))
	}()
	defer end(&err)

	account, err := s.activeAccount(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			s.timing.WaitFrom(ctx, start)
		}
		return nil, err
	}

	if err := s.ensureUnlocked(ctx, id); err != nil {
		return nil, err
	}

	if pkgauth.ComparePassword(account.PasswordHash, secret) != nil {
		state, err := s.lockout.RecordFailure(ctx, id)
		if err != nil {
			return nil, err
		}
		s.timing.WaitFrom(ctx, start)
		return nil, models.Fail(models.ErrBadSecret, auth.BadSecretMessage(state.FailedAttempts))
	}

	cleared, err := s.lockout.ResetFailures(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cleared {
		return nil, models.Fail(models.ErrAccountLocked, "Account is permanently locked. Please contact administrator.")
	}

	code, err := s.otp.Generate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.deliver(ctx, account, OTPPurposeLogin, code); err != nil {
		return nil, err
	}

	s.logger.Info("login password verified, otp sent", slog.String("user_id", id))
	return &ChallengeResult{
		Status:      statusSuccess,
		Message:     "Login successful. Please verify OTP sent to your email.",
		MaskedEmail: auth.MaskEmail(account.Email),
	}, nil
}

// SendOTP emails a new login OTP to an active, unlocked account. It is
// refused while OTP verification is blocked.
func (s *AuthService) SendOTP(ctx context.Context, handle string) (result *ChallengeResult, err error) {
	id := NormalizeAccountID(handle)

	ctx, end := s.begin(ctx, "send_otp", id)
	defer end(&err)

	account, err := s.activeAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ensureUnlocked(ctx, id); err != nil {
		return nil, err
	}

	code, err := s.otp.Reissue(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.deliver(ctx, account, OTPPurposeResend, code); err != nil {
		return nil, err
	}

	return &ChallengeResult{
		Status:      statusSuccess,
		Message:     "OTP sent successfully",
		MaskedEmail: auth.MaskEmail(account.Email),
	}, nil
}

// VerifyOTP completes a login: the OTP is checked and cleared, the login is
// recorded and a token pair is issued.
func (s *AuthService) VerifyOTP(ctx context.Context, handle, code string, client ClientInfo) (result *VerifyOTPResult, err error) {
	id := NormalizeAccountID(handle)

	ctx, end := s.begin(ctx, "verify_otp", id)
	defer func() {
		s.metrics.ObserveOTPVerification("login", outcomeOf(err))
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.EventLoginOTPVerified, id, client.IP, err == nil, outcomeOf(err))
	}()
	defer end(&err)

	if _, err := s.activeAccount(ctx, id); err != nil {
		return nil, err
	}
	if err := s.ensureUnlocked(ctx, id); err != nil {
		return nil, err
	}

	check, err := s.otp.Verify(ctx, id, code, true)
	if err != nil {
		return nil, err
	}
	if !check.OK {
		return nil, models.Fail(check.Err, check.Message)
	}

	login := models.LoginInfo{
		At:        s.now(),
		IP:        client.IP,
		UserAgent: pkghttp.DescribeUserAgent(client.UserAgent),
	}
	account, err := s.accounts.Update(ctx, id, func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
		return &models.AccountPatch{LoginInfo: &login}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}

	pair, err := s.tokens.IssueTokenPair(account)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	s.logger.Info("user logged in", slog.String("user_id", id))
	return &VerifyOTPResult{
		Status:       statusSuccess,
		Message:      check.Message,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         account.Summary(),
	}, nil
}

// RequestPasswordReset emails a password-reset OTP to an active account
func (s *AuthService) RequestPasswordReset(ctx context.Context, handle string) (result *ChallengeResult, err error) {
	id := NormalizeAccountID(handle)

	ctx, end := s.begin(ctx, "request_password_reset", id)
	defer end(&err)

	account, err := s.activeAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	code, err := s.otp.Reissue(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.deliver(ctx, account, OTPPurposeReset, code); err != nil {
		return nil, err
	}

	return &ChallengeResult{
		Status:      statusSuccess,
		Message:     "Password reset OTP sent successfully",
		MaskedEmail: auth.MaskEmail(account.Email),
	}, nil
}

// VerifyResetOTP checks a password-reset OTP without consuming it, so the
// same code can be presented to ResetPassword.
func (s *AuthService) VerifyResetOTP(ctx context.Context, handle, code string) (result *StatusResult, err error) {
	id := NormalizeAccountID(handle)

	ctx, end := s.begin(ctx, "verify_reset_otp", id)
	defer func() { s.metrics.ObserveOTPVerification("password_reset", outcomeOf(err)) }()
	defer end(&err)

	if _, err := s.activeAccount(ctx, id); err != nil {
		return nil, err
	}

	check, err := s.otp.Verify(ctx, id, code, false)
	if err != nil {
		return nil, err
	}
	if !check.OK {
		return nil, models.Fail(check.Err, check.Message)
	}

	return &StatusResult{Status: statusSuccess, Message: check.Message}, nil
}

// ResetPassword sets newSecret after verifying the reset OTP. A password used
// in the last five changes is rejected with ErrSecretReuse and nothing is
// written.
func (s *AuthService) ResetPassword(ctx context.Context, handle, code, newSecret string, client ClientInfo) (result *StatusResult, err error) {
	id := NormalizeAccountID(handle)

	ctx, end := s.begin(ctx, "reset_password", id)
	defer func() {
		s.metrics.ObservePasswordReset(outcomeOf(err))
		reason := outcomeOf(err)
		if errors.Is(err, models.ErrSecretReuse) {
			reason = pkglogger.EventPasswordReuse
		}
		s.auditLogger.LogPasswordChange(ctx, id, client.IP, err == nil, reason)
	}()
	defer end(&err)

	account, err := s.activeAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := pkgauth.ValidatePassword(newSecret, account.Username, account.Email, account.FirstName, account.LastName); err != nil {
		msg := err.Error()
		return nil, models.Fail(models.ErrBadRequest, strings.ToUpper(msg[:1])+msg[1:])
	}

	check, err := s.otp.Verify(ctx, id, code, false)
	if err != nil {
		return nil, err
	}
	if !check.OK {
		return nil, models.Fail(check.Err, check.Message)
	}

	if err := s.passwords.SetNewSecret(ctx, id, newSecret); err != nil {
		return nil, err
	}

	return &StatusResult{Status: statusSuccess, Message: "Password reset successful"}, nil
}

// RefreshToken exchanges a refresh token for a new pair. The presented token
// is revoked so it cannot be replayed.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (result *TokenResult, err error) {
	ctx, end := s.begin(ctx, "refresh_token", "")
	defer end(&err)

	claims, err := s.tokens.ValidateToken(strings.TrimSpace(refreshToken))
	if err != nil || claims.Type != models.TokenTypeRefresh || claims.ExpiresAt == nil {
		return nil, models.Fail(models.ErrUnauthorized, msgInvalidToken)
	}

	revoked, err := s.revocations.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check refresh token revocation: %w", err)
	}
	if revoked {
		s.logger.Warn("revoked refresh token presented", slog.String("user_id", claims.UserID))
		return nil, models.Fail(models.ErrUnauthorized, msgInvalidToken)
	}

	account, err := s.activeAccount(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			return nil, models.Fail(models.ErrUnauthorized, msgInvalidToken)
		}
		return nil, err
	}
	if err := s.ensureUnlocked(ctx, account.ID); err != nil {
		return nil, err
	}

	// JWT timestamps have second precision
	if account.PasswordChangedAt != nil && claims.IssuedAt != nil &&
		claims.IssuedAt.Time.Before(account.PasswordChangedAt.Truncate(time.Second)) {
		s.logger.Info("refresh blocked: token issued before password change", slog.String("user_id", account.ID))
		return nil, models.Fail(models.ErrUnauthorized, msgInvalidToken)
	}

	if err := s.revocations.RevokeToken(ctx, claims.ID, claims.UserID, claims.ExpiresAt.Time); err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}

	pair, err := s.tokens.IssueTokenPair(account)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.EventTokenRefreshed, account.ID, "", true, "")
	return &TokenResult{
		Status:       statusSuccess,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Logout revokes the access token of the current request and, when given,
// the caller's refresh token. An unusable refresh token is ignored.
func (s *AuthService) Logout(ctx context.Context, access *models.TokenClaims, refreshToken string) (result *StatusResult, err error) {
	if access == nil {
		return nil, models.Fail(models.ErrUnauthorized, "Authentication required")
	}

	ctx, end := s.begin(ctx, "logout", access.UserID)
	defer end(&err)

	if err := s.revocations.RevokeToken(ctx, access.ID, access.UserID, expiresAt(access)); err != nil {
		return nil, fmt.Errorf("revoke access token: %w", err)
	}

	if refreshToken = strings.TrimSpace(refreshToken); refreshToken != "" {
		claims, err := s.tokens.ValidateToken(refreshToken)
		switch {
		case err != nil || claims.Type != models.TokenTypeRefresh:
			s.logger.Info("logout ignored unusable refresh token", slog.String("user_id", access.UserID))
		case claims.UserID != access.UserID:
			return nil, models.Fail(models.ErrUnauthorized, "Refresh token does not belong to the current user")
		default:
			if err := s.revocations.RevokeToken(ctx, claims.ID, claims.UserID, expiresAt(claims)); err != nil {
				return nil, fmt.Errorf("revoke refresh token: %w", err)
			}
		}
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.EventLogout, access.UserID, "", true, "")
	return &StatusResult{Status: statusSuccess, Message: "Logout successful"}, nil
}

// activeAccount loads id and rejects unknown or inactive accounts
func (s *AuthService) activeAccount(ctx context.Context, id string) (*models.Account, error) {
	if id == "" {
		return nil, models.Fail(models.ErrInvalidCredentials, msgInvalidCredentials)
	}

	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.Fail(models.ErrInvalidCredentials, msgInvalidCredentials)
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	if !account.IsActive {
		return nil, models.Fail(models.ErrAccountInactive, msgInactive)
	}
	return account, nil
}

// ensureUnlocked passes the lock message through verbatim
func (s *AuthService) ensureUnlocked(ctx context.Context, id string) error {
	status, err := s.lockout.CheckLocked(ctx, id)
	if err != nil {
		return err
	}
	if status.Locked {
		return models.Fail(models.ErrAccountLocked, status.Message)
	}
	return nil
}

// deliver emails code, invalidating it when the email cannot be sent
func (s *AuthService) deliver(ctx context.Context, account *models.Account, purpose OTPPurpose, code string) error {
	msg := NewOTPEmail(purpose, account.Email, account.FirstName, code)

	if err := s.mailer.Send(ctx, msg); err != nil {
		s.metrics.ObserveOTPIssued(string(purpose), false)
		s.logger.Error("otp delivery failed",
			slog.String("user_id", account.ID),
			slog.String("email", pkglogger.SanitizedEmail(account.Email)),
			slog.Any("error", err))
		s.auditLogger.Log(ctx, pkglogger.AuditEvent{
			AuditType:     pkglogger.AuditTypeOTP,
			EventType:     pkglogger.EventOTPDeliveryFailed,
			UserID:        account.ID,
			FailureReason: string(purpose),
		})

		if err := s.otp.Invalidate(context.WithoutCancel(ctx), account.ID); err != nil {
			s.logger.Error("failed to invalidate undelivered otp", slog.String("user_id", account.ID), slog.Any("error", err))
		}
		return models.Fail(models.ErrDeliveryFailure, msgDeliveryFailure)
	}

	s.metrics.ObserveOTPIssued(string(purpose), true)
	return nil
}

// begin opens the span of an operation. The returned func must be deferred
// with the operation's error: it recovers panics, replaces any error that is
// not an AuthFailure with a generic one and ends the span.
func (s *AuthService) begin(ctx context.Context, operation, id string) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "auth."+operation,
		trace.WithAttributes(attribute.String("auth.user_id", id)))

	return ctx, func(errp *error) {
		if r := recover(); r != nil {
			s.logger.Error("panic in auth operation",
				slog.String("operation", operation),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			*errp = fmt.Errorf("panic: %v", r)
		}

		if err := *errp; err != nil {
			var af *models.AuthFailure
			if !errors.As(err, &af) {
				s.logger.Error("auth operation failed",
					slog.String("operation", operation),
					slog.String("user_id", id),
					slog.Any("error", err))
				af = models.Fail(models.ErrInternalServer, msgInternal)
			}
			*errp = af
			span.RecordError(af.Err)
			span.SetStatus(codes.Error, af.Err.Error())
		}

		s.metrics.ObserveDuration(operation, start)
		span.End()
	}
}

// expiresAt is the zero time for a token without an exp claim, which the
// revocation store treats as already expired
func expiresAt(claims *models.TokenClaims) time.Time {
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// outcomeOf names the result of an operation for metrics and audit records
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, models.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, models.ErrAccountInactive):
		return "inactive"
	case errors.Is(err, models.ErrAccountLocked):
		return "locked"
	case errors.Is(err, models.ErrBadSecret):
		return "bad_secret"
	case errors.Is(err, models.ErrOTPNotFound):
		return "otp_not_found"
	case errors.Is(err, models.ErrOTPExpired):
		return "otp_expired"
	case errors.Is(err, models.ErrOTPMismatch):
		return "otp_mismatch"
	case errors.Is(err, models.ErrOTPBlocked):
		return "otp_blocked"
	case errors.Is(err, models.ErrSecretReuse):
		return "secret_reuse"
	case errors.Is(err, models.ErrDeliveryFailure):
		return "delivery_failure"
	case errors.Is(err, models.ErrBadRequest):
		return "invalid_password"
	case errors.Is(err, models.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
