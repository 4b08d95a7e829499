package devserver

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer       = "pcapconsole-devserver"
	refreshTokenBytes = 32
)

type accessClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type refreshRecord struct {
	userID    string
	expiresAt time.Time
}

// tokenService signs HS256 access tokens and tracks opaque refresh tokens by
// their SHA-256 hash. Refresh tokens are single use: redeeming one retires
// it, and presenting a retired token revokes every live token for that user.
type tokenService struct {
	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	mu      sync.Mutex
	live    map[string]refreshRecord
	retired map[string]refreshRecord
}

func newTokenService(signingKey []byte, accessTTL, refreshTTL time.Duration) *tokenService {
	return &tokenService{
		signingKey: signingKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		live:       make(map[string]refreshRecord),
		retired:    make(map[string]refreshRecord),
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// issue returns a new access/refresh pair for u.
func (ts *tokenService) issue(u userRecord) (TokenResponse, error) {
	now := time.Now()
	claims := accessClaims{
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   u.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.accessTTL)),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.signingKey)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("signing access token: %w", err)
	}

	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return TokenResponse{}, fmt.Errorf("generating refresh token: %w", err)
	}
	refresh := base64.RawURLEncoding.EncodeToString(buf)

	ts.mu.Lock()
	ts.live[hashToken(refresh)] = refreshRecord{userID: u.ID, expiresAt: now.Add(ts.refreshTTL)}
	ts.mu.Unlock()

	return TokenResponse{AccessToken: access, RefreshToken: refresh, Role: u.Role}, nil
}

// verifyAccess validates an access token and returns its claims.
func (ts *tokenService) verifyAccess(token string) (*accessClaims, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return ts.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// redeem consumes a refresh token and returns the owning user ID. reused is
// true when the token had already been redeemed; all of that user's tokens
// are revoked in that case.
func (ts *tokenService) redeem(token string) (userID string, reused bool, err error) {
	h := hashToken(token)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if old, ok := ts.retired[h]; ok {
		ts.revokeLocked(old.userID)
		return old.userID, true, ErrInvalidToken
	}
	rec, ok := ts.live[h]
	if !ok {
		return "", false, ErrInvalidToken
	}
	delete(ts.live, h)
	ts.retired[h] = rec
	if time.Now().After(rec.expiresAt) {
		return rec.userID, false, ErrInvalidToken
	}
	return rec.userID, false, nil
}

// revoke drops every live refresh token for userID.
func (ts *tokenService) revoke(userID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.revokeLocked(userID)
}

func (ts *tokenService) revokeLocked(userID string) {
	for h, rec := range ts.live {
		if rec.userID == userID {
			delete(ts.live, h)
			ts.retired[h] = rec
		}
	}
}

// sweep forgets expired tokens. Retired hashes are kept until the token
// would have expired so reuse is still detected.
func (ts *tokenService) sweep() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	now := time.Now()
	for h, rec := range ts.live {
		if now.After(rec.expiresAt) {
			delete(ts.live, h)
		}
	}
	for h, rec := range ts.retired {
		if now.After(rec.expiresAt) {
			delete(ts.retired, h)
		}
	}
}
