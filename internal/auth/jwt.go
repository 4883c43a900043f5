package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/utafrali/authgate/internal/domain"
)

// ErrInvalidToken is returned for any token that fails verification:
// bad signature, wrong algorithm, wrong kind, expired or malformed.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the payload carried by every token the service issues.
type Claims struct {
	Kind   domain.TokenKind `json:"kind"`
	Email  string           `json:"email,omitempty"`
	UserID string           `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 tokens.
type JWTManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures a JWTManager.
type Option func(*JWTManager)

// WithClock replaces time.Now for issuing and verification.
func WithClock(now func() time.Time) Option {
	return func(m *JWTManager) { m.now = now }
}

// NewJWTManager creates a manager signing with secret and stamping issuer.
func NewJWTManager(secret, issuer string, opts ...Option) *JWTManager {
	m := &JWTManager{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue signs claims with a fresh jti and an expiry ttl from now. It
// returns the token and its expiry time.
func (m *JWTManager) Issue(claims Claims, ttl time.Duration) (string, time.Time, error) {
	now := m.now().UTC()
	exp := now.Add(ttl)

	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    m.issuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", claims.Kind, err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify parses tokenString, checks its signature, expiry, issuer and kind,
// and returns its claims. Every failure wraps ErrInvalidToken.
func (m *JWTManager) Verify(tokenString string, kind domain.TokenKind) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: want %s token, got %q", ErrInvalidToken, kind, claims.Kind)
	}
	return claims, nil
}
