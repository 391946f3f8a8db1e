package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenClaims are the JWT claims issued after a completed login
type TokenClaims struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	Username    string `json:"username,omitempty"`
	IsSuperuser bool   `json:"is_superuser,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is an access/refresh token pair
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
