package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/collegeerp/internal/auth"
	"github.com/BradenHooton/collegeerp/internal/models"
	"github.com/BradenHooton/collegeerp/internal/services"
	pkghttp "github.com/BradenHooton/collegeerp/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access token claims to the request context
func WithAuthContext(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Type:   models.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, pkghttp.StatusError, resp.Status)
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc                func(ctx context.Context, handle, secret string, client services.ClientInfo) (*services.ChallengeResult, error)
	SendOTPFunc              func(ctx context.Context, handle string) (*services.ChallengeResult, error)
	VerifyOTPFunc            func(ctx context.Context, handle, code string, client services.ClientInfo) (*services.VerifyOTPResult, error)
	RequestPasswordResetFunc func(ctx context.Context, handle string) (*services.ChallengeResult, error)
	VerifyResetOTPFunc       func(ctx context.Context, handle, code string) (*services.StatusResult, error)
	ResetPasswordFunc        func(ctx context.Context, handle, code, newSecret string, client services.ClientInfo) (*services.StatusResult, error)
	RefreshTokenFunc         func(ctx context.Context, refreshToken string) (*services.TokenResult, error)
	LogoutFunc               func(ctx context.Context, access *models.TokenClaims, refreshToken string) (*services.StatusResult, error)
}

func (m *MockAuthService) Login(ctx context.Context, handle, secret string, client services.ClientInfo) (*services.ChallengeResult, error) {
	if m.LoginFunc == nil {
		return nil, models.Fail(models.ErrInvalidCredentials, "Invalid credentials")
	}
	return m.LoginFunc(ctx, handle, secret, client)
}

func (m *MockAuthService) SendOTP(ctx context.Context, handle string) (*services.ChallengeResult, error) {
	if m.SendOTPFunc == nil {
		return nil, models.Fail(models.ErrInvalidCredentials, "Invalid credentials")
	}
	return m.SendOTPFunc(ctx, handle)
}

func (m *MockAuthService) VerifyOTP(ctx context.Context, handle, code string, client services.ClientInfo) (*services.VerifyOTPResult, error) {
	if m.VerifyOTPFunc == nil {
		return nil, models.Fail(models.ErrOTPNotFound, "No valid OTP found")
	}
	return m.VerifyOTPFunc(ctx, handle, code, client)
}

func (m *MockAuthService) RequestPasswordReset(ctx context.Context, handle string) (*services.ChallengeResult, error) {
	if m.RequestPasswordResetFunc == nil {
		return nil, models.Fail(models.ErrInvalidCredentials, "Invalid credentials")
	}
	return m.RequestPasswordResetFunc(ctx, handle)
}

func (m *MockAuthService) VerifyResetOTP(ctx context.Context, handle, code string) (*services.StatusResult, error) {
	if m.VerifyResetOTPFunc == nil {
		return nil, models.Fail(models.ErrOTPNotFound, "No valid OTP found")
	}
	return m.VerifyResetOTPFunc(ctx, handle, code)
}

func (m *MockAuthService) ResetPassword(ctx context.Context, handle, code, newSecret string, client services.ClientInfo) (*services.StatusResult, error) {
	if m.ResetPasswordFunc == nil {
		return nil, models.Fail(models.ErrOTPNotFound, "No valid OTP found")
	}
	return m.ResetPasswordFunc(ctx, handle, code, newSecret, client)
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*services.TokenResult, error) {
	if m.RefreshTokenFunc == nil {
		return nil, models.Fail(models.ErrUnauthorized, "Invalid or expired refresh token")
	}
	return m.RefreshTokenFunc(ctx, refreshToken)
}

func (m *MockAuthService) Logout(ctx context.Context, access *models.TokenClaims, refreshToken string) (*services.StatusResult, error) {
	if m.LogoutFunc == nil {
		return &services.StatusResult{Status: "success", Message: "Logout successful"}, nil
	}
	return m.LogoutFunc(ctx, access, refreshToken)
}
