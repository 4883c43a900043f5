// Package token owns the lifecycle of registration, session and reset
// tokens and the registries that track which of them are live.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/utafrali/authgate/internal/auth"
	"github.com/utafrali/authgate/internal/domain"
	"github.com/utafrali/authgate/internal/registry"
)

var (
	// ErrInvalid covers every token that cannot be used: bad signature,
	// wrong kind, expired, already consumed or no longer the latest.
	// Callers must not tell these apart to clients.
	ErrInvalid = errors.New("invalid or expired token")

	// ErrSuperseded is returned when a structurally valid session token is
	// no longer the user's active session.
	ErrSuperseded = errors.New("session superseded")
)

// Registry is the store behind each token table.
type Registry[K, V comparable] interface {
	Get(k K) (V, bool)
	Put(k K, v V, expiresAt time.Time)
	PutIfAbsent(k K, v V, expiresAt time.Time) bool
	DeleteIfPresent(k K) (V, bool)
	CompareAndDelete(k K, expected V) bool
	Sweep(now time.Time) int
	Len() int
}

// Codec signs and verifies tokens.
type Codec interface {
	Issue(claims auth.Claims, ttl time.Duration) (string, time.Time, error)
	Verify(token string, kind domain.TokenKind) (*auth.Claims, error)
}

// Config holds token lifetimes and the registration freshness policy.
type Config struct {
	RegistrationTTL time.Duration
	SessionTTL      time.Duration
	ResetTTL        time.Duration

	// RequireLatestRegistration rejects registration tokens that were
	// superseded by a later BeginRegistration for the same email.
	RequireLatestRegistration bool
}

// Registration is a verified registration token.
type Registration struct {
	Email     string
	Token     string
	ExpiresAt time.Time
	claimed   bool
}

// ResetClaim is a reset token removed from the pending table. Until the
// caller either finishes the reset or calls RestoreReset, nobody else can
// use the token.
type ResetClaim struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// SweepResult counts the entries evicted from each registry.
type SweepResult struct {
	Registrations int
	Sessions      int
	Resets        int
}

// Total is the sum over all registries.
func (r SweepResult) Total() int { return r.Registrations + r.Sessions + r.Resets }

// Manager is the token state machine. It holds three registries:
// pending registrations (email -> token), active sessions
// (user id -> token) and pending resets (token -> user id).
type Manager struct {
	codec Codec
	cfg   Config

	registrations Registry[string, string]
	sessions      Registry[string, string]
	resets        Registry[string, string]
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegistries replaces the default in-memory registries.
func WithRegistries(registrations, sessions, resets Registry[string, string]) Option {
	return func(m *Manager) {
		m.registrations = registrations
		m.sessions = sessions
		m.resets = resets
	}
}

// WithClock makes the default registries read time from now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.registrations = registry.New[string, string](now)
		m.sessions = registry.New[string, string](now)
		m.resets = registry.New[string, string](now)
	}
}

// NewManager creates a manager with empty in-memory registries.
func NewManager(codec Codec, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		codec:         codec,
		cfg:           cfg,
		registrations: registry.New[string, string](nil),
		sessions:      registry.New[string, string](nil),
		resets:        registry.New[string, string](nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) issue(claims auth.Claims, ttl time.Duration) (string, time.Time, error) {
	tok, exp, err := m.codec.Issue(claims, ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue %s token: %w", claims.Kind, err)
	}
	tokensIssued.WithLabelValues(claims.Kind.String()).Inc()
	return tok, exp, nil
}

func (m *Manager) verify(tok string, kind domain.TokenKind) (*auth.Claims, error) {
	claims, err := m.codec.Verify(tok, kind)
	if err != nil {
		tokensRejected.WithLabelValues(kind.String(), reasonInvalid).Inc()
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return claims, nil
}

func reject(kind domain.TokenKind, reason string, err error) error {
	tokensRejected.WithLabelValues(kind.String(), reason).Inc()
	return err
}

// IssueRegistration creates a registration token for email and records it
// as the latest pending registration, replacing any earlier one.
func (m *Manager) IssueRegistration(email string) (string, error) {
	tok, exp, err := m.issue(auth.Claims{Kind: domain.TokenRegistration, Email: email}, m.cfg.RegistrationTTL)
	if err != nil {
		return "", err
	}
	m.registrations.Put(email, tok, exp)
	return tok, nil
}

// ClaimRegistration verifies a registration token. With
// RequireLatestRegistration set, the token must also be the pending one
// for its email, and it is removed so no concurrent completion can use it.
// A claimed registration must be settled with CompleteRegistration or
// ReleaseRegistration.
func (m *Manager) ClaimRegistration(tok string) (*Registration, error) {
	claims, err := m.verify(tok, domain.TokenRegistration)
	if err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, reject(domain.TokenRegistration, reasonInvalid, ErrInvalid)
	}

	reg := &Registration{Email: claims.Email, Token: tok, ExpiresAt: claims.ExpiresAt.Time}
	if m.cfg.RequireLatestRegistration {
		if !m.registrations.CompareAndDelete(claims.Email, tok) {
			return nil, reject(domain.TokenRegistration, reasonSuperseded, ErrInvalid)
		}
		reg.claimed = true
	}
	return reg, nil
}

// CompleteRegistration drops the pending registration once the user exists.
func (m *Manager) CompleteRegistration(reg *Registration) {
	if !reg.claimed {
		m.registrations.DeleteIfPresent(reg.Email)
	}
	tokensConsumed.WithLabelValues(domain.TokenRegistration.String()).Inc()
}

// ReleaseRegistration puts a claimed token back after a failed completion,
// unless a newer registration for the email was issued in the meantime.
func (m *Manager) ReleaseRegistration(reg *Registration) {
	if reg.claimed {
		m.registrations.PutIfAbsent(reg.Email, reg.Token, reg.ExpiresAt)
	}
}

// IssueSession creates a session token for userID and makes it the user's
// only active session.
func (m *Manager) IssueSession(userID string) (string, error) {
	tok, exp, err := m.issue(auth.Claims{Kind: domain.TokenSession, UserID: userID}, m.cfg.SessionTTL)
	if err != nil {
		return "", err
	}
	m.sessions.Put(userID, tok, exp)
	return tok, nil
}

// AuthorizeSession returns the user id of tok when it is the user's
// active session. It returns ErrInvalid for tokens that fail verification
// and ErrSuperseded for valid tokens replaced by a later login.
func (m *Manager) AuthorizeSession(tok string) (string, error) {
	claims, err := m.verify(tok, domain.TokenSession)
	if err != nil {
		return "", err
	}
	if current, ok := m.sessions.Get(claims.UserID); !ok || current != tok {
		return "", reject(domain.TokenSession, reasonSuperseded, ErrSuperseded)
	}
	return claims.UserID, nil
}

// RevokeSession ends userID's active session, if any.
func (m *Manager) RevokeSession(userID string) {
	m.sessions.DeleteIfPresent(userID)
}

// IssueReset creates a one-time reset token for userID.
func (m *Manager) IssueReset(userID string) (string, error) {
	tok, exp, err := m.issue(auth.Claims{Kind: domain.TokenReset, UserID: userID}, m.cfg.ResetTTL)
	if err != nil {
		return "", err
	}
	m.resets.Put(tok, userID, exp)
	return tok, nil
}

// ClaimReset verifies tok and atomically removes it from the pending table.
// Of several concurrent claims for one token at most one succeeds.
func (m *Manager) ClaimReset(tok string) (*ResetClaim, error) {
	claims, err := m.verify(tok, domain.TokenReset)
	if err != nil {
		return nil, err
	}

	userID, ok := m.resets.DeleteIfPresent(tok)
	if !ok {
		return nil, reject(domain.TokenReset, reasonConsumed, ErrInvalid)
	}
	if userID != claims.UserID {
		return nil, reject(domain.TokenReset, reasonMismatch, ErrInvalid)
	}

	tokensConsumed.WithLabelValues(domain.TokenReset.String()).Inc()
	return &ResetClaim{UserID: userID, Token: tok, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// RestoreReset returns a claimed token to the pending table so the user
// can retry after a transient failure.
func (m *Manager) RestoreReset(c *ResetClaim) {
	m.resets.PutIfAbsent(c.Token, c.UserID, c.ExpiresAt)
}

// Sweep evicts entries expired at now from all registries.
func (m *Manager) Sweep(now time.Time) SweepResult {
	res := SweepResult{
		Registrations: m.registrations.Sweep(now),
		Sessions:      m.sessions.Sweep(now),
		Resets:        m.resets.Sweep(now),
	}
	registrySwept.WithLabelValues("pending_registration").Add(float64(res.Registrations))
	registrySwept.WithLabelValues("active_session").Add(float64(res.Sessions))
	registrySwept.WithLabelValues("pending_reset").Add(float64(res.Resets))
	return res
}

// Stats reports the current size of each registry.
func (m *Manager) Stats() SweepResult {
	return SweepResult{
		Registrations: m.registrations.Len(),
		Sessions:      m.sessions.Len(),
		Resets:        m.resets.Len(),
	}
}
