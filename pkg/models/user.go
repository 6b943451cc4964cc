package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User mirrors the auth provider's profile so memberships can be looked up by email
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name,omitempty" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SessionRequest carries a provider-issued access token to exchange for a session cookie
type SessionRequest struct {
	AccessToken string `json:"access_token"`
}

// RefreshTokenRequest represents the request payload for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenPair is returned by refresh and dev token issuing
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenClaims follows the hosted auth provider's session token shape:
// the user id travels in "sub".
type TokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	Type  string `json:"type,omitempty"` // "" or "access" for access tokens, "refresh" otherwise
	jwt.RegisteredClaims
}

// UserID returns the subject claim
func (c *TokenClaims) UserID() string {
	return c.Subject
}
