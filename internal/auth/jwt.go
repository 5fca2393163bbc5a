// Package auth issues and verifies the bearer tokens remote document stores accept.
package auth

import (
	"errors"
	"fmt"
	"time"

	"cic-sync/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims identify the durable user id a token was issued for.
type Claims struct {
	jwt.RegisteredClaims
}

// Tokens signs and parses HS256 tokens with a shared secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock overrides the issue-time clock.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	t.now = now
	return t
}

// Issue returns a signed token whose subject is userID.
func (t *Tokens) Issue(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: token requires a user id", domain.ErrSecurityViolation)
	}
	now := t.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Subject verifies token and returns its subject. Any failure, expiry
// included, is reported as domain.ErrReauthNeeded.
func (t *Tokens) Subject(token string) (string, error) {
	if token == "" {
		return "", domain.ErrReauthNeeded
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token expired", domain.ErrReauthNeeded)
		}
		return "", fmt.Errorf("%w: %v", domain.ErrReauthNeeded, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", domain.ErrReauthNeeded)
	}
	return claims.Subject, nil
}
