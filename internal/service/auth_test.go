package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/authgate/internal/auth"
	"github.com/utafrali/authgate/internal/domain"
	"github.com/utafrali/authgate/internal/event"
	"github.com/utafrali/authgate/internal/notify"
	"github.com/utafrali/authgate/internal/repository"
	"github.com/utafrali/authgate/internal/repository/memory"
	"github.com/utafrali/authgate/internal/token"
	apperrors "github.com/utafrali/authgate/pkg/errors"
)

// --- Test doubles ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) Update(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) last(t *testing.T) notify.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent, "no message sent")
	return s.sent[len(s.sent)-1]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType, _ string, _ any) {
	p.mu.Lock()
	p.events = append(p.events, eventType)
	p.mu.Unlock()
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// --- Fixture ---

type fixture struct {
	svc       *AuthService
	users     repository.UserRepository
	tokens    *token.Manager
	sender    *recordingSender
	publisher *recordingPublisher
}

func defaultTokenConfig() token.Config {
	return token.Config{
		RegistrationTTL: time.Hour,
		SessionTTL:      24 * time.Hour,
		ResetTTL:        15 * time.Minute,
	}
}

func newFixture(t *testing.T, users repository.UserRepository, cfg token.Config) *fixture {
	t.Helper()
	codec := auth.NewJWTManager("service-test-secret-0123456789abcdef", "authgate")
	tokens := token.NewManager(codec, cfg)
	sender := &recordingSender{}
	pub := &recordingPublisher{}
	svc := NewAuthService(users, tokens, auth.NewBcryptHasher(bcrypt.MinCost), sender, pub,
		Config{BaseURL: "http://localhost:5000/", ResetTTL: cfg.ResetTTL},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{svc: svc, users: users, tokens: tokens, sender: sender, publisher: pub}
}

func newMemoryFixture(t *testing.T) *fixture {
	return newFixture(t, memory.NewUserRepository(), defaultTokenConfig())
}

func (f *fixture) registrationToken(t *testing.T) string {
	t.Helper()
	body := f.sender.last(t).Body
	return strings.TrimPrefix(body, "Your verification token: ")
}

func (f *fixture) resetToken(t *testing.T) string {
	t.Helper()
	body := f.sender.last(t).Body
	return body[strings.LastIndex(body, "/")+1:]
}

func (f *fixture) register(t *testing.T, email, password string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.BeginRegistration(ctx, email))
	require.NoError(t, f.svc.CompleteRegistration(ctx, f.registrationToken(t), password))
}

func assertAppError(t *testing.T, err error, sentinel error, status int, msg string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, status, appErr.Status)
	assert.Equal(t, msg, appErr.Message)
}

// --- Registration ---

func TestBeginRegistration_EmptyEmail(t *testing.T) {
	f := newMemoryFixture(t)
	err := f.svc.BeginRegistration(context.Background(), "")
	assertAppError(t, err, apperrors.ErrValidation, 400, "Email is required")
	assert.Equal(t, 0, f.tokens.Stats().Registrations)
}

func TestBeginRegistration_SendsVerificationToken(t *testing.T) {
	f := newMemoryFixture(t)
	require.NoError(t, f.svc.BeginRegistration(context.Background(), "a@x.com"))

	msg := f.sender.last(t)
	assert.Equal(t, "a@x.com", msg.To)
	assert.Equal(t, "Verify your email", msg.Subject)
	assert.NotEmpty(t, f.registrationToken(t))
	assert.Equal(t, 1, f.tokens.Stats().Registrations)
}

func TestBeginRegistration_DeliveryFailureKeepsPendingToken(t *testing.T) {
	f := newMemoryFixture(t)
	f.sender.err = errors.New("smtp: 421 busy")

	err := f.svc.BeginRegistration(context.Background(), "a@x.com")
	assertAppError(t, err, apperrors.ErrDelivery, 500, "Failed to send verification email.")
	assert.False(t, apperrors.IsInternal(err))
	assert.Equal(t, 1, f.tokens.Stats().Registrations)
}

func TestCompleteRegistration_MissingFields(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	assertAppError(t, f.svc.CompleteRegistration(ctx, "", "pw"), apperrors.ErrValidation, 400, "Token and password are required")
	assertAppError(t, f.svc.CompleteRegistration(ctx, "tok", ""), apperrors.ErrValidation, 400, "Token and password are required")
}

func TestCompleteRegistration_PasswordTooLong(t *testing.T) {
	f := newMemoryFixture(t)
	require.NoError(t, f.svc.BeginRegistration(context.Background(), "a@x.com"))

	err := f.svc.CompleteRegistration(context.Background(), f.registrationToken(t), strings.Repeat("p", 73))
	assertAppError(t, err, apperrors.ErrValidation, 400, "password must be at most 72 bytes")
}

func TestCompleteRegistration_InvalidToken(t *testing.T) {
	f := newMemoryFixture(t)
	err := f.svc.CompleteRegistration(context.Background(), "not-a-token", "pw1")
	assertAppError(t, err, apperrors.ErrInvalidToken, 400, "Invalid or expired token.")
}

func TestCompleteRegistration_CreatesVerifiedUser(t *testing.T) {
	f := newMemoryFixture(t)
	f.register(t, "a@x.com", "pw1")

	u, err := f.users.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.True(t, u.Verified)
	assert.NotEqual(t, "pw1", u.PasswordHash)
	assert.Equal(t, 0, f.tokens.Stats().Registrations)
	assert.Equal(t, []string{event.UserRegistered}, f.publisher.types())
}

func TestCompleteRegistration_AlreadyRegistered(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "pw1")

	require.NoError(t, f.svc.BeginRegistration(ctx, "a@x.com"))
	err := f.svc.CompleteRegistration(ctx, f.registrationToken(t), "pw2")
	assertAppError(t, err, apperrors.ErrConflict, 400, "User already registered.")
}

func TestCompleteRegistration_DoubleBeginFirstTokenStillAccepted(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.BeginRegistration(ctx, "a@x.com"))
	first := f.registrationToken(t)
	require.NoError(t, f.svc.BeginRegistration(ctx, "a@x.com"))
	require.NotEqual(t, first, f.registrationToken(t))

	require.NoError(t, f.svc.CompleteRegistration(ctx, first, "pw1"))
	_, err := f.svc.Login(ctx, "a@x.com", "pw1")
	assert.NoError(t, err)
}

func TestCompleteRegistration_StrictModeRejectsSupersededToken(t *testing.T) {
	cfg := defaultTokenConfig()
	cfg.RequireLatestRegistration = true
	f := newFixture(t, memory.NewUserRepository(), cfg)
	ctx := context.Background()

	require.NoError(t, f.svc.BeginRegistration(ctx, "a@x.com"))
	first := f.registrationToken(t)
	require.NoError(t, f.svc.BeginRegistration(ctx, "a@x.com"))
	latest := f.registrationToken(t)

	err := f.svc.CompleteRegistration(ctx, first, "pw1")
	assertAppError(t, err, apperrors.ErrInvalidToken, 400, "Invalid or expired token.")
	require.NoError(t, f.svc.CompleteRegistration(ctx, latest, "pw1"))
}

func TestCompleteRegistration_StrictModeReleasesTokenOnStoreFailure(t *testing.T) {
	repo := new(mockUserRepository)
	cfg := defaultTokenConfig()
	cfg.RequireLatestRegistration = true
	f := newFixture(t, repo, cfg)
	ctx := context.Background()

	repo.On("GetByEmail", mock.Anything, "a@x.com").Return(nil, repository.ErrUserNotFound)
	repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()
	repo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, f.svc.BeginRegistration(ctx, "a@x.com"))
	tok := f.registrationToken(t)

	err := f.svc.CompleteRegistration(ctx, tok, "pw1")
	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))

	require.NoError(t, f.svc.CompleteRegistration(ctx, tok, "pw1"))
	repo.AssertExpectations(t)
}

func TestCompleteRegistration_ConcurrentCompletionsCreateOneUser(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.BeginRegistration(ctx, "a@x.com"))
	tok := f.registrationToken(t)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.svc.CompleteRegistration(ctx, tok, "pw1")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, apperrors.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(9), conflicts.Load())
}

// --- Login and Authorize ---

func TestLogin_UnknownUser(t *testing.T) {
	f := newMemoryFixture(t)
	_, err := f.svc.Login(context.Background(), "nobody@x.com", "any")
	assertAppError(t, err, apperrors.ErrAuth, 400, "User not found or not verified")
}

func TestLogin_UnverifiedUser(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	hash, err := auth.NewBcryptHasher(bcrypt.MinCost).Hash("pw1")
	require.NoError(t, err)
	require.NoError(t, f.users.Create(ctx, &domain.User{ID: "u1", Email: "u@x.com", PasswordHash: hash}))

	_, err = f.svc.Login(ctx, "u@x.com", "pw1")
	assertAppError(t, err, apperrors.ErrAuth, 400, "User not found or not verified")
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newMemoryFixture(t)
	f.register(t, "a@x.com", "pw1")

	_, err := f.svc.Login(context.Background(), "a@x.com", "wrong")
	assertAppError(t, err, apperrors.ErrAuth, 400, "Invalid password")
}

func TestLogin_StoreFailureIsInternal(t *testing.T) {
	repo := new(mockUserRepository)
	f := newFixture(t, repo, defaultTokenConfig())
	repo.On("GetByEmail", mock.Anything, "a@x.com").Return(nil, errors.New("pool closed"))

	_, err := f.svc.Login(context.Background(), "a@x.com", "pw1")
	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))
}

func TestLogin_NewSessionSupersedesOld(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "pw1")

	s1, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	userID, err := f.svc.Authorize(ctx, "Bearer "+s1)
	require.NoError(t, err)

	s2, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)

	_, err = f.svc.Authorize(ctx, "Bearer "+s1)
	assertAppError(t, err, apperrors.ErrAuth, 401, "Token expired or user logged in elsewhere")

	again, err := f.svc.Authorize(ctx, "Bearer "+s2)
	require.NoError(t, err)
	assert.Equal(t, userID, again)
}

func TestAuthorize_HeaderErrors(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	_, err := f.svc.Authorize(ctx, "")
	assertAppError(t, err, apperrors.ErrAuth, 401, "No token provided")

	_, err = f.svc.Authorize(ctx, "Bearer")
	assertAppError(t, err, apperrors.ErrAuth, 401, "Malformed token")

	_, err = f.svc.Authorize(ctx, "Token abc")
	assertAppError(t, err, apperrors.ErrAuth, 401, "Malformed token")

	_, err = f.svc.Authorize(ctx, "Bearer garbage")
	assertAppError(t, err, apperrors.ErrAuth, 401, "Invalid token")
}

func TestAuthorize_RejectsOtherTokenKinds(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "pw1")
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "a@x.com"))

	_, err := f.svc.Authorize(ctx, "Bearer "+f.resetToken(t))
	assertAppError(t, err, apperrors.ErrAuth, 401, "Invalid token")
}

func TestAuthorize_ZeroSessionTTLRejected(t *testing.T) {
	cfg := defaultTokenConfig()
	cfg.SessionTTL = 0
	f := newFixture(t, memory.NewUserRepository(), cfg)
	ctx := context.Background()
	f.register(t, "a@x.com", "pw1")

	s, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	_, err = f.svc.Authorize(ctx, "Bearer "+s)
	assertAppError(t, err, apperrors.ErrAuth, 401, "Invalid token")
}

// --- Password reset ---

func TestRequestPasswordReset_EmptyEmail(t *testing.T) {
	f := newMemoryFixture(t)
	err := f.svc.RequestPasswordReset(context.Background(), "")
	assertAppError(t, err, apperrors.ErrValidation, 400, "Email is required")
}

func TestRequestPasswordReset_UnknownUser(t *testing.T) {
	f := newMemoryFixture(t)
	err := f.svc.RequestPasswordReset(context.Background(), "nobody@x.com")
	assertAppError(t, err, apperrors.ErrNotFound, 404, "User not found")
	assert.Equal(t, 0, f.tokens.Stats().Resets)
}

func TestRequestPasswordReset_SendsLink(t *testing.T) {
	f := newMemoryFixture(t)
	f.register(t, "a@x.com", "pw1")

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "a@x.com"))

	msg := f.sender.last(t)
	assert.Equal(t, "Password Reset Request", msg.Subject)
	assert.Contains(t, msg.Body, "(valid for 15 minutes)")
	assert.Contains(t, msg.Body, "http://localhost:5000/reset-password/"+f.resetToken(t))
	assert.Equal(t, 1, f.tokens.Stats().Resets)
}

func TestRequestPasswordReset_DeliveryFailure(t *testing.T) {
	f := newMemoryFixture(t)
	f.register(t, "a@x.com", "pw1")
	f.sender.err = errors.New("dial tcp: connection refused")

	err := f.svc.RequestPasswordReset(context.Background(), "a@x.com")
	assertAppError(t, err, apperrors.ErrDelivery, 500, "Server error while requesting password reset")
}

func TestResetPassword_EmptyPassword(t *testing.T) {
	f := newMemoryFixture(t)
	err := f.svc.ResetPassword(context.Background(), "tok", "")
	assertAppError(t, err, apperrors.ErrValidation, 400, "New password is required")
}

func TestResetPassword_InvalidToken(t *testing.T) {
	f := newMemoryFixture(t)
	err := f.svc.ResetPassword(context.Background(), "garbage", "pw2")
	assertAppError(t, err, apperrors.ErrInvalidToken, 400, "Invalid or expired token")
}

func TestResetPassword_ChangesPasswordAndRevokesSession(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "pw1")
	session, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "a@x.com"))
	tok := f.resetToken(t)
	require.NoError(t, f.svc.ResetPassword(ctx, tok, "pw2"))

	_, err = f.svc.Login(ctx, "a@x.com", "pw1")
	assertAppError(t, err, apperrors.ErrAuth, 400, "Invalid password")
	_, err = f.svc.Authorize(ctx, "Bearer "+session)
	assertAppError(t, err, apperrors.ErrAuth, 401, "Token expired or user logged in elsewhere")

	err = f.svc.ResetPassword(ctx, tok, "pw3")
	assertAppError(t, err, apperrors.ErrInvalidToken, 400, "Invalid or expired token")

	_, err = f.svc.Login(ctx, "a@x.com", "pw2")
	assert.NoError(t, err)
	assert.Contains(t, f.publisher.types(), event.PasswordReset)
}

// updateHookRepository runs beforeUpdate ahead of each stored update.
type updateHookRepository struct {
	repository.UserRepository
	beforeUpdate func()
}

func (r *updateHookRepository) Update(ctx context.Context, user *domain.User) error {
	if r.beforeUpdate != nil {
		r.beforeUpdate()
	}
	return r.UserRepository.Update(ctx, user)
}

func TestResetPassword_RevokesSessionWonDuringUpdate(t *testing.T) {
	users := &updateHookRepository{UserRepository: memory.NewUserRepository()}
	f := newFixture(t, users, defaultTokenConfig())
	ctx := context.Background()
	f.register(t, "a@x.com", "pw1")

	var racing string
	users.beforeUpdate = func() {
		tok, err := f.svc.Login(ctx, "a@x.com", "pw1")
		require.NoError(t, err)
		racing = tok
	}

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "a@x.com"))
	require.NoError(t, f.svc.ResetPassword(ctx, f.resetToken(t), "pw2"))
	require.NotEmpty(t, racing)

	_, err := f.svc.Authorize(ctx, "Bearer "+racing)
	assertAppError(t, err, apperrors.ErrAuth, 401, "Token expired or user logged in elsewhere")

	users.beforeUpdate = nil
	fresh, err := f.svc.Login(ctx, "a@x.com", "pw2")
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, "Bearer "+fresh)
	assert.NoError(t, err)
}

func TestResetPassword_ConcurrentUseSucceedsOnce(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "pw1")
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "a@x.com"))
	tok := f.resetToken(t)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		invalid   atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.svc.ResetPassword(ctx, tok, "pw2")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, apperrors.ErrInvalidToken):
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(19), invalid.Load())
}

func TestResetPassword_MissingUserConsumesToken(t *testing.T) {
	repo := new(mockUserRepository)
	f := newFixture(t, repo, defaultTokenConfig())
	ctx := context.Background()
	repo.On("GetByID", mock.Anything, "u1").Return(nil, repository.ErrUserNotFound)

	tok, err := f.tokens.IssueReset("u1")
	require.NoError(t, err)

	err = f.svc.ResetPassword(ctx, tok, "pw2")
	assertAppError(t, err, apperrors.ErrNotFound, 404, "User not found")
	assert.Equal(t, 0, f.tokens.Stats().Resets)
}

func TestResetPassword_StoreFailureRestoresToken(t *testing.T) {
	repo := new(mockUserRepository)
	f := newFixture(t, repo, defaultTokenConfig())
	ctx := context.Background()
	user := &domain.User{ID: "u1", Email: "a@x.com", Verified: true}

	repo.On("GetByID", mock.Anything, "u1").Return(nil, errors.New("timeout")).Once()
	repo.On("GetByID", mock.Anything, "u1").Return(user, nil).Once()
	repo.On("Update", mock.Anything, user).Return(nil).Once()

	tok, err := f.tokens.IssueReset("u1")
	require.NoError(t, err)

	err = f.svc.ResetPassword(ctx, tok, "pw2")
	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))
	assert.Equal(t, 1, f.tokens.Stats().Resets)

	require.NoError(t, f.svc.ResetPassword(ctx, tok, "pw2"))
	assert.Equal(t, 0, f.tokens.Stats().Resets)
	repo.AssertExpectations(t)
}
