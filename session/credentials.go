// Package session owns the authenticated-session lifecycle: persisted
// credentials, the single-flight token refresh, and the inactivity monitor.
package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the authorization level granted by the backend.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole validates a role string returned by the backend.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Credentials are the tokens and identity of a logged-in operator.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Role         Role   `json:"role"`
	Username     string `json:"username,omitempty"`
}

// Complete reports whether both tokens are present. Anything less is
// treated as no session at all.
func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

func (c Credentials) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// AccessTokenExpiry reads the exp claim of a JWT access token without
// verifying its signature. The console never holds the signing key; the
// value is informational only.
func AccessTokenExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parsing access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("access token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}
