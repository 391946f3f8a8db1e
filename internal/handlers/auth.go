package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BradenHooton/collegeerp/internal/auth"
	"github.com/BradenHooton/collegeerp/internal/models"
	"github.com/BradenHooton/collegeerp/internal/services"
	pkghttp "github.com/BradenHooton/collegeerp/pkg/http"
)

// maxBodyBytes bounds every auth request body
const maxBodyBytes = 1 << 16

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, handle, secret string, client services.ClientInfo) (*services.ChallengeResult, error)
	SendOTP(ctx context.Context, handle string) (*services.ChallengeResult, error)
	VerifyOTP(ctx context.Context, handle, code string, client services.ClientInfo) (*services.VerifyOTPResult, error)
	RequestPasswordReset(ctx context.Context, handle string) (*services.ChallengeResult, error)
	VerifyResetOTP(ctx context.Context, handle, code string) (*services.StatusResult, error)
	ResetPassword(ctx context.Context, handle, code, newSecret string, client services.ClientInfo) (*services.StatusResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenResult, error)
	Logout(ctx context.Context, access *models.TokenClaims, refreshToken string) (*services.StatusResult, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	UserID   string `json:"user_id" validate:"required,max=50"`
	Password string `json:"password" validate:"required,max=128"`
}

// SendOTPRequest represents the request body for resending a login OTP
type SendOTPRequest struct {
	UserID string `json:"user_id" validate:"required,max=50"`
}

// VerifyOTPRequest represents the request body for the OTP step
type VerifyOTPRequest struct {
	UserID string `json:"user_id" validate:"required,max=50"`
	OTP    string `json:"otp" validate:"required,len=6,numeric"`
}

// ForgotPasswordRequest represents the request body for a reset OTP
type ForgotPasswordRequest struct {
	UserID string `json:"user_id" validate:"required,max=50"`
}

// ResetPasswordRequest represents the request body for setting a new password
type ResetPasswordRequest struct {
	UserID      string `json:"user_id" validate:"required,max=50"`
	OTP         string `json:"otp" validate:"required,len=6,numeric"`
	NewPassword string `json:"new_password" validate:"required,max=128"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest optionally names the refresh token to revoke with the session
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login handles the password step of a login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.ChallengeResult
// @Failure 400,401,403,500 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res, err := h.service.Login(r.Context(), req.UserID, req.Password, h.clientInfo(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, res)
}

// SendOTP handles resending a login OTP
// @Router /auth/otp/send [post]
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res, err := h.service.SendOTP(r.Context(), req.UserID)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, res)
}

// VerifyOTP handles the OTP step of a login and returns the token pair
// @Router /auth/otp/verify [post]
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res, err := h.service.VerifyOTP(r.Context(), req.UserID, req.OTP, h.clientInfo(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, res)
}

// ForgotPassword emails a password-reset OTP
// @Router /auth/password/forgot [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res, err := h.service.RequestPasswordReset(r.Context(), req.UserID)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, res)
}

// VerifyResetOTP checks a password-reset OTP without consuming it
// @Router /auth/password/verify-otp [post]
func (h *AuthHandler) VerifyResetOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res, err := h.service.VerifyResetOTP(r.Context(), req.UserID, req.OTP)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, res)
}

// ResetPassword sets a new password after OTP verification
// @Router /auth/password/reset [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res, err := h.service.ResetPassword(r.Context(), req.UserID, req.OTP, req.NewPassword, h.clientInfo(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, res)
}

// RefreshToken handles token refresh
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res, err := h.service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, res)
}

// Logout revokes the bearer token and, when given, the refresh token
// @Security BearerAuth
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil || claims.Type != models.TokenTypeAccess {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	// The body is optional
	var req LogoutRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	res, err := h.service.Logout(r.Context(), claims, req.RefreshToken)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, res)
}

func (h *AuthHandler) clientInfo(r *http.Request) services.ClientInfo {
	return services.ClientInfo{
		IP:        pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// decodeRequest reads and validates the JSON body into dst, writing a 400
// response and returning false on failure
func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}

	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// writeAuthError maps the flow errors to HTTP responses. Messages come from
// the service and never carry internal detail.
func writeAuthError(w http.ResponseWriter, err error) {
	msg := models.FailureMessage(err)

	switch {
	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrBadSecret):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_credentials", msg)
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, msg)
	case errors.Is(err, models.ErrAccountInactive):
		pkghttp.WriteForbidden(w, msg)
	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteLocked(w, msg)
	case errors.Is(err, models.ErrOTPNotFound),
		errors.Is(err, models.ErrOTPExpired),
		errors.Is(err, models.ErrOTPMismatch):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_otp", msg)
	case errors.Is(err, models.ErrOTPBlocked):
		pkghttp.WriteError(w, http.StatusTooManyRequests, "otp_blocked", msg)
	case errors.Is(err, models.ErrSecretReuse):
		pkghttp.WriteError(w, http.StatusBadRequest, "password_reuse", msg)
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, msg)
	case errors.Is(err, models.ErrDeliveryFailure):
		pkghttp.WriteError(w, http.StatusInternalServerError, "delivery_failed", msg)
	default:
		pkghttp.WriteInternalError(w, msg)
	}
}
