package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/authgate/internal/auth"
	"github.com/utafrali/authgate/internal/domain"
	"github.com/utafrali/authgate/internal/event"
	"github.com/utafrali/authgate/internal/notify"
	"github.com/utafrali/authgate/internal/repository"
	"github.com/utafrali/authgate/internal/token"
	apperrors "github.com/utafrali/authgate/pkg/errors"
	"github.com/utafrali/authgate/pkg/logger"
)

// maxPasswordBytes is the longest password bcrypt hashes without truncation.
const maxPasswordBytes = 72

// Client-facing messages.
const (
	msgEmailRequired         = "Email is required"
	msgTokenPasswordRequired = "Token and password are required"
	msgNewPasswordRequired   = "New password is required"
	msgPasswordTooLong       = "password must be at most 72 bytes"
	msgUserExists            = "User already registered."
	msgRegistrationInvalid   = "Invalid or expired token."
	msgResetInvalid          = "Invalid or expired token"
	msgNotFoundOrUnverified  = "User not found or not verified"
	msgInvalidPassword       = "Invalid password"
	msgNoToken               = "No token provided"
	msgMalformedToken        = "Malformed token"
	msgInvalidSession        = "Invalid token"
	msgSessionSuperseded     = "Token expired or user logged in elsewhere"
	msgUserNotFound          = "User not found"
	msgVerificationFailed    = "Failed to send verification email."
	msgResetMailFailed       = "Server error while requesting password reset"
)

// Hasher hashes and checks passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// Config holds the settings the workflows need beyond their collaborators.
type Config struct {
	// BaseURL prefixes the password reset link.
	BaseURL string
	// ResetTTL is quoted in the reset message.
	ResetTTL time.Duration
}

// AuthService sequences the credential store, token manager, hasher and
// notification sender for each auth workflow.
type AuthService struct {
	users     repository.UserRepository
	tokens    *token.Manager
	hasher    Hasher
	sender    notify.Sender
	publisher event.Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthService creates a new auth service.
func NewAuthService(
	users repository.UserRepository,
	tokens *token.Manager,
	hasher Hasher,
	sender notify.Sender,
	publisher event.Publisher,
	cfg Config,
	logger *slog.Logger,
) *AuthService {
	if publisher == nil {
		publisher = event.Nop{}
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		hasher:    hasher,
		sender:    sender,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *AuthService) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, s.logger)
}

// --- Registration ---

// BeginRegistration issues a registration token for email and mails it.
// A later call for the same email replaces the pending token. When delivery
// fails the pending token stays in place.
func (s *AuthService) BeginRegistration(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.Validation(msgEmailRequired)
	}

	tok, err := s.tokens.IssueRegistration(email)
	if err != nil {
		return fmt.Errorf("begin registration: %w", err)
	}

	if err := s.sender.Send(ctx, notify.VerificationMessage(email, tok)); err != nil {
		return apperrors.Delivery(msgVerificationFailed, fmt.Errorf("send via %s: %w", s.sender.Name(), err))
	}

	s.log(ctx).InfoContext(ctx, "registration started", logger.Email(email))
	return nil
}

// CompleteRegistration verifies tok and creates the verified user it names
// with the given password.
func (s *AuthService) CompleteRegistration(ctx context.Context, tok, password string) error {
	if tok == "" || password == "" {
		return apperrors.Validation(msgTokenPasswordRequired)
	}
	if len(password) > maxPasswordBytes {
		return apperrors.Validation(msgPasswordTooLong)
	}

	reg, err := s.tokens.ClaimRegistration(tok)
	if err != nil {
		return apperrors.InvalidToken(msgRegistrationInvalid)
	}

	_, err = s.users.GetByEmail(ctx, reg.Email)
	switch {
	case err == nil:
		s.tokens.CompleteRegistration(reg)
		return apperrors.Conflict(msgUserExists)
	case !errors.Is(err, repository.ErrUserNotFound):
		s.tokens.ReleaseRegistration(reg)
		return fmt.Errorf("complete registration: lookup user: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.tokens.ReleaseRegistration(reg)
		return fmt.Errorf("complete registration: %w", err)
	}

	now := s.now()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        reg.Email,
		PasswordHash: hash,
		Verified:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			s.tokens.CompleteRegistration(reg)
			return apperrors.Conflict(msgUserExists)
		}
		s.tokens.ReleaseRegistration(reg)
		return fmt.Errorf("complete registration: create user: %w", err)
	}
	s.tokens.CompleteRegistration(reg)

	s.log(ctx).InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		logger.Email(user.Email),
	)
	s.publisher.Publish(ctx, event.UserRegistered, user.ID, map[string]string{"email": user.Email})
	return nil
}

// --- Sessions ---

// Login checks the credentials and returns a session token that replaces
// every earlier session of the user.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", apperrors.InvalidCredentials(msgNotFoundOrUnverified)
		}
		return "", fmt.Errorf("login: lookup user: %w", err)
	}
	if !user.Verified {
		return "", apperrors.InvalidCredentials(msgNotFoundOrUnverified)
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return "", apperrors.InvalidCredentials(msgInvalidPassword)
		}
		return "", fmt.Errorf("login: %w", err)
	}

	tok, err := s.tokens.IssueSession(user.ID)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	s.log(ctx).InfoContext(ctx, "session issued", slog.String("user_id", user.ID))
	s.publisher.Publish(ctx, event.SessionIssued, user.ID, nil)
	return tok, nil
}

// Authorize validates an Authorization header value and returns the user id
// of its session.
func (s *AuthService) Authorize(ctx context.Context, header string) (string, error) {
	if header == "" {
		return "", apperrors.Unauthorized(msgNoToken)
	}
	tok, ok := bearerToken(header)
	if !ok {
		return "", apperrors.Unauthorized(msgMalformedToken)
	}

	userID, err := s.tokens.AuthorizeSession(tok)
	switch {
	case errors.Is(err, token.ErrSuperseded):
		return "", apperrors.Unauthorized(msgSessionSuperseded)
	case err != nil:
		return "", apperrors.Unauthorized(msgInvalidSession)
	}
	return userID, nil
}

func bearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	return fields[1], true
}

// --- Password reset ---

// RequestPasswordReset issues a one-time reset token for the user with
// email and mails the reset link.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.Validation(msgEmailRequired)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return apperrors.NotFound(msgUserNotFound)
		}
		return fmt.Errorf("request reset: lookup user: %w", err)
	}

	tok, err := s.tokens.IssueReset(user.ID)
	if err != nil {
		return fmt.Errorf("request reset: %w", err)
	}

	msg := notify.ResetMessage(user.Email, s.resetLink(tok), s.cfg.ResetTTL)
	if err := s.sender.Send(ctx, msg); err != nil {
		return apperrors.Delivery(msgResetMailFailed, fmt.Errorf("send via %s: %w", s.sender.Name(), err))
	}

	s.log(ctx).InfoContext(ctx, "password reset requested", slog.String("user_id", user.ID))
	s.publisher.Publish(ctx, event.PasswordResetRequested, user.ID, nil)
	return nil
}

func (s *AuthService) resetLink(tok string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/reset-password/" + tok
}

// ResetPassword consumes tok and sets the user's password. The token is
// claimed before any store access, so of several concurrent resets with one
// token only the first succeeds. Transient failures put the token back.
// A successful reset ends the user's active session.
func (s *AuthService) ResetPassword(ctx context.Context, tok, password string) error {
	if password == "" {
		return apperrors.Validation(msgNewPasswordRequired)
	}
	if len(password) > maxPasswordBytes {
		return apperrors.Validation(msgPasswordTooLong)
	}

	claim, err := s.tokens.ClaimReset(tok)
	if err != nil {
		return apperrors.InvalidToken(msgResetInvalid)
	}

	user, err := s.users.GetByID(ctx, claim.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return apperrors.NotFound(msgUserNotFound)
		}
		s.tokens.RestoreReset(claim)
		return fmt.Errorf("reset password: lookup user: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.tokens.RestoreReset(claim)
		return fmt.Errorf("reset password: %w", err)
	}

	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return apperrors.NotFound(msgUserNotFound)
		}
		s.tokens.RestoreReset(claim)
		return fmt.Errorf("reset password: update user: %w", err)
	}
	// Revoking after the update ends any session won with the old password.
	// A login with the new password that lands between the two calls loses
	// its session and must log in again; that race is accepted.
	s.tokens.RevokeSession(user.ID)

	s.log(ctx).InfoContext(ctx, "password reset", slog.String("user_id", user.ID))
	s.publisher.Publish(ctx, event.PasswordReset, user.ID, nil)
	return nil
}
