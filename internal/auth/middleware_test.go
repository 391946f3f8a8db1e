package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/collegeerp/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRevocationChecker struct {
	revoked map[string]bool
	err     error
}

func (s *stubRevocationChecker) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.revoked[jti], nil
}

func protectedHandler(t *testing.T, reached *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*reached = true
		claims := GetUserFromContext(r)
		require.NotNil(t, claims)
		assert.Equal(t, "EMP0042", claims.UserID)
		assert.NotEmpty(t, GetTokenFromContext(r))
		w.WriteHeader(http.StatusNoContent)
	})
}

func authRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthMiddleware_AcceptsAccessToken(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, time.Hour)
	pair, err := tm.IssueTokenPair(testAccount())
	require.NoError(t, err)

	var reached bool
	handler := AuthMiddleware(tm, &stubRevocationChecker{})(protectedHandler(t, &reached))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authRequest(pair.AccessToken))

	assert.True(t, reached)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, time.Hour)
	pair, err := tm.IssueTokenPair(testAccount())
	require.NoError(t, err)
	access, err := tm.ValidateToken(pair.AccessToken)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		checker *stubRevocationChecker
		status  int
	}{
		{name: "missing header", token: "", checker: &stubRevocationChecker{}, status: http.StatusUnauthorized},
		{name: "garbage token", token: "not-a-jwt", checker: &stubRevocationChecker{}, status: http.StatusUnauthorized},
		{name: "refresh token", token: pair.RefreshToken, checker: &stubRevocationChecker{}, status: http.StatusUnauthorized},
		{
			name:    "revoked",
			token:   pair.AccessToken,
			checker: &stubRevocationChecker{revoked: map[string]bool{access.ID: true}},
			status:  http.StatusUnauthorized,
		},
		{
			name:    "revocation store down",
			token:   pair.AccessToken,
			checker: &stubRevocationChecker{err: errors.New("connection refused")},
			status:  http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reached bool
			handler := AuthMiddleware(tm, tt.checker)(protectedHandler(t, &reached))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, authRequest(tt.token))

			assert.False(t, reached)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestGetUserFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	assert.Nil(t, GetUserFromContext(req))
	assert.Empty(t, GetTokenFromContext(req))
}

func TestGetUserFromContext_Present(t *testing.T) {
	claims := &models.TokenClaims{UserID: "EMP0042"}
	ctx := context.WithValue(context.Background(), UserContextKey, claims)
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)

	assert.Same(t, claims, GetUserFromContext(req))
}
