package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/go-otp-auth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}
func (m *mockUserStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}
func (m *mockUserStore) Create(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}
func (m *mockUserStore) Save(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}
func (m *mockUserStore) Delete(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}

type mockTokens struct{ mock.Mock }

func (m *mockTokens) Issue(ctx context.Context, userID string, purpose domain.TokenType) (string, error) {
	args := m.Called(ctx, userID, purpose)
	return args.String(0), args.Error(1)
}
func (m *mockTokens) Regenerate(ctx context.Context, userID string, purpose domain.TokenType) (string, error) {
	args := m.Called(ctx, userID, purpose)
	return args.String(0), args.Error(1)
}

// Consume runs onValid when the mocked outcome is success, like the real manager.
func (m *mockTokens) Consume(ctx context.Context, userID string, purpose domain.TokenType, code string, onValid func(context.Context) error) error {
	if err := m.Called(ctx, userID, purpose, code).Error(0); err != nil {
		return err
	}
	if onValid != nil {
		return onValid(ctx)
	}
	return nil
}

type mockHasher struct{ mock.Mock }

func (m *mockHasher) Hash(plaintext string) (string, error) {
	args := m.Called(plaintext)
	return args.String(0), args.Error(1)
}
func (m *mockHasher) Verify(plaintext, hash string) (bool, error) {
	args := m.Called(plaintext, hash)
	return args.Bool(0), args.Error(1)
}

type mockSessions struct{ mock.Mock }

func (m *mockSessions) Issue(subject string, roles []string) (string, error) {
	args := m.Called(subject, roles)
	return args.String(0), args.Error(1)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) SendAsync(email, code string, purpose domain.TokenType) {
	m.Called(email, code, purpose)
}

// --- builder ---

type fixture struct {
	users    *mockUserStore
	tokens   *mockTokens
	hasher   *mockHasher
	sessions *mockSessions
	notifier *mockNotifier
	svc      Service
}

func newFixture() *fixture {
	f := &fixture{
		users:    &mockUserStore{},
		tokens:   &mockTokens{},
		hasher:   &mockHasher{},
		sessions: &mockSessions{},
		notifier: &mockNotifier{},
	}
	f.svc = NewService(ServiceDeps{
		UserRepo:      f.users,
		Tokens:        f.tokens,
		Hasher:        f.hasher,
		Sessions:      f.sessions,
		Notifier:      f.notifier,
		DefaultAvatar: "https://cdn.example.com/avatar.png",
	})
	return f
}

func (f *fixture) assertAll(t *testing.T) {
	t.Helper()
	f.users.AssertExpectations(t)
	f.tokens.AssertExpectations(t)
	f.hasher.AssertExpectations(t)
	f.sessions.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

// --- Register ---

func TestRegister_HappyPath(t *testing.T) {
	f := newFixture()
	f.users.On("ExistsByEmail", mock.Anything, "new@x.com").Return(false, nil)
	f.users.On("ExistsByUsername", mock.Anything, "newbie").Return(false, nil)
	f.hasher.On("Hash", "secret1").Return("$2a$hash", nil)
	f.users.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).Return(nil)
	f.tokens.On("Issue", mock.Anything, mock.AnythingOfType("string"), domain.TokenRegistration).Return("123456", nil)
	f.notifier.On("SendAsync", "new@x.com", "123456", domain.TokenRegistration).Return()

	u, err := f.svc.Register(context.Background(), domain.RegisterRequest{
		Email: " New@X.com ", Password: "secret1", Username: "newbie",
	})

	require.NoError(t, err)
	assert.Equal(t, "new@x.com", u.Email)
	assert.Equal(t, "newbie", u.Username)
	assert.Equal(t, "$2a$hash", u.PasswordHash)
	assert.False(t, u.Enabled)
	assert.Equal(t, []string{domain.RoleUser}, u.Roles)
	assert.Equal(t, "https://cdn.example.com/avatar.png", u.Avatar)
	assert.NotEmpty(t, u.UserID)
	f.tokens.AssertCalled(t, "Issue", mock.Anything, u.UserID, domain.TokenRegistration)
	f.assertAll(t)
}

func TestRegister_UsernameDefaultsToUserID(t *testing.T) {
	f := newFixture()
	f.users.On("ExistsByEmail", mock.Anything, "a@x.com").Return(false, nil)
	f.hasher.On("Hash", "secret1").Return("h", nil)
	f.users.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.tokens.On("Issue", mock.Anything, mock.Anything, domain.TokenRegistration).Return("123456", nil)
	f.notifier.On("SendAsync", "a@x.com", "123456", domain.TokenRegistration).Return()

	u, err := f.svc.Register(context.Background(), domain.RegisterRequest{Email: "a@x.com", Password: "secret1"})

	require.NoError(t, err)
	assert.Equal(t, u.UserID, u.Username)
	f.users.AssertNotCalled(t, "ExistsByUsername", mock.Anything, mock.Anything)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture()
	f.users.On("ExistsByEmail", mock.Anything, "a@x.com").Return(true, nil)

	_, err := f.svc.Register(context.Background(), domain.RegisterRequest{Email: "a@x.com", Password: "secret1"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateEmail))
	f.hasher.AssertNotCalled(t, "Hash", mock.Anything)
	f.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.tokens.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	f := newFixture()
	f.users.On("ExistsByEmail", mock.Anything, "a@x.com").Return(false, nil)
	f.users.On("ExistsByUsername", mock.Anything, "taken").Return(true, nil)

	_, err := f.svc.Register(context.Background(), domain.RegisterRequest{Email: "a@x.com", Password: "secret1", Username: "taken"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateUsername))
	f.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRegister_CreateRaceSurfacesDuplicate(t *testing.T) {
	f := newFixture()
	f.users.On("ExistsByEmail", mock.Anything, "a@x.com").Return(false, nil)
	f.hasher.On("Hash", "secret1").Return("h", nil)
	f.users.On("Create", mock.Anything, mock.Anything).Return(domain.ErrDuplicateEmail)

	_, err := f.svc.Register(context.Background(), domain.RegisterRequest{Email: "a@x.com", Password: "secret1"})

	assert.True(t, errors.Is(err, domain.ErrDuplicateEmail))
	f.tokens.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegister_IssueFailureRollsBackUser(t *testing.T) {
	f := newFixture()
	storeErr := errors.New("dynamo unavailable")
	f.users.On("ExistsByEmail", mock.Anything, "a@x.com").Return(false, nil)
	f.hasher.On("Hash", "secret1").Return("h", nil)
	f.users.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.tokens.On("Issue", mock.Anything, mock.Anything, domain.TokenRegistration).Return("", storeErr)
	f.users.On("Delete", mock.Anything, mock.AnythingOfType("*domain.User")).Return(nil)

	u, err := f.svc.Register(context.Background(), domain.RegisterRequest{Email: "a@x.com", Password: "secret1"})

	require.Error(t, err)
	assert.Nil(t, u)
	assert.True(t, errors.Is(err, storeErr))
	f.notifier.AssertNotCalled(t, "SendAsync", mock.Anything, mock.Anything, mock.Anything)
	f.users.AssertExpectations(t)
}

// --- VerifyAccount ---

func TestVerifyAccount_EnablesUser(t *testing.T) {
	f := newFixture()
	u := &domain.User{UserID: "u1", Email: "a@x.com"}
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(u, nil)
	f.tokens.On("Consume", mock.Anything, "u1", domain.TokenRegistration, "123456").Return(nil)
	f.users.On("Save", mock.Anything, mock.MatchedBy(func(u *domain.User) bool { return u.Enabled })).Return(nil)

	require.NoError(t, f.svc.VerifyAccount(context.Background(), "A@x.com", "123456"))
	assert.True(t, u.Enabled)
	f.assertAll(t)
}

func TestVerifyAccount_UnknownEmail(t *testing.T) {
	f := newFixture()
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(nil, domain.ErrNotFound)

	err := f.svc.VerifyAccount(context.Background(), "a@x.com", "123456")

	assert.True(t, errors.Is(err, domain.ErrNotFound))
	f.tokens.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyAccount_TokenFailuresLeaveUserDisabled(t *testing.T) {
	for _, tokenErr := range []error{domain.ErrNotFound, domain.ErrExpired, domain.ErrMismatch} {
		t.Run(domain.Code(tokenErr), func(t *testing.T) {
			f := newFixture()
			u := &domain.User{UserID: "u1", Email: "a@x.com"}
			f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(u, nil)
			f.tokens.On("Consume", mock.Anything, "u1", domain.TokenRegistration, "000000").Return(tokenErr)

			err := f.svc.VerifyAccount(context.Background(), "a@x.com", "000000")

			assert.True(t, errors.Is(err, tokenErr))
			assert.False(t, u.Enabled)
			f.users.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		})
	}
}

func TestVerifyAccount_SaveFailureIsReported(t *testing.T) {
	f := newFixture()
	u := &domain.User{UserID: "u1", Email: "a@x.com"}
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(u, nil)
	f.tokens.On("Consume", mock.Anything, "u1", domain.TokenRegistration, "123456").Return(nil)
	f.users.On("Save", mock.Anything, u).Return(errors.New("throughput exceeded"))

	err := f.svc.VerifyAccount(context.Background(), "a@x.com", "123456")

	require.Error(t, err)
	assert.False(t, u.Enabled)
	assert.False(t, domain.IsDomain(err))
}

// --- RegenerateOTP ---

func TestRegenerateOTP_SendsNewCode(t *testing.T) {
	f := newFixture()
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(&domain.User{UserID: "u1", Email: "a@x.com"}, nil)
	f.tokens.On("Regenerate", mock.Anything, "u1", domain.TokenRegistration).Return("654321", nil)
	f.notifier.On("SendAsync", "a@x.com", "654321", domain.TokenRegistration).Return()

	require.NoError(t, f.svc.RegenerateOTP(context.Background(), "a@x.com"))
	f.assertAll(t)
}

func TestRegenerateOTP_PropagatesTokenErrors(t *testing.T) {
	for _, tokenErr := range []error{domain.ErrNoPriorToken, domain.ErrThrottled} {
		t.Run(domain.Code(tokenErr), func(t *testing.T) {
			f := newFixture()
			f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(&domain.User{UserID: "u1", Email: "a@x.com"}, nil)
			f.tokens.On("Regenerate", mock.Anything, "u1", domain.TokenRegistration).Return("", tokenErr)

			err := f.svc.RegenerateOTP(context.Background(), "a@x.com")

			assert.True(t, errors.Is(err, tokenErr))
			f.notifier.AssertNotCalled(t, "SendAsync", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

// --- ForgotPassword ---

func TestForgotPassword_IssuesResetToken(t *testing.T) {
	f := newFixture()
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(&domain.User{UserID: "u1", Email: "a@x.com"}, nil)
	f.tokens.On("Issue", mock.Anything, "u1", domain.TokenResetPassword).Return("111111", nil)
	f.notifier.On("SendAsync", "a@x.com", "111111", domain.TokenResetPassword).Return()

	require.NoError(t, f.svc.ForgotPassword(context.Background(), "a@x.com"))
	f.assertAll(t)
}

func TestForgotPassword_UnknownEmailSucceedsSilently(t *testing.T) {
	f := newFixture()
	f.users.On("GetByEmail", mock.Anything, "ghost@x.com").Return(nil, domain.ErrNotFound)

	require.NoError(t, f.svc.ForgotPassword(context.Background(), "ghost@x.com"))
	f.tokens.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "SendAsync", mock.Anything, mock.Anything, mock.Anything)
}

func TestForgotPassword_StoreErrorPropagates(t *testing.T) {
	f := newFixture()
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(nil, errors.New("timeout"))

	err := f.svc.ForgotPassword(context.Background(), "a@x.com")
	require.Error(t, err)
	assert.False(t, domain.IsDomain(err))
}

// --- ResetPassword ---

func TestResetPassword_UpdatesHash(t *testing.T) {
	f := newFixture()
	u := &domain.User{UserID: "u1", Email: "a@x.com", PasswordHash: "old"}
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(u, nil)
	f.hasher.On("Hash", "brandnew").Return("new", nil)
	f.tokens.On("Consume", mock.Anything, "u1", domain.TokenResetPassword, "111111").Return(nil)
	f.users.On("Save", mock.Anything, u).Return(nil)

	require.NoError(t, f.svc.ResetPassword(context.Background(), "a@x.com", "111111", "brandnew"))
	assert.Equal(t, "new", u.PasswordHash)
	f.assertAll(t)
}

func TestResetPassword_WrongCodeKeepsPassword(t *testing.T) {
	f := newFixture()
	u := &domain.User{UserID: "u1", Email: "a@x.com", PasswordHash: "old"}
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(u, nil)
	f.tokens.On("Consume", mock.Anything, "u1", domain.TokenResetPassword, "999999").Return(domain.ErrMismatch)

	err := f.svc.ResetPassword(context.Background(), "a@x.com", "999999", "brandnew")

	assert.True(t, errors.Is(err, domain.ErrMismatch))
	assert.Equal(t, "old", u.PasswordHash)
	f.users.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	f.hasher.AssertNotCalled(t, "Hash", mock.Anything)
}

func TestResetPassword_SaveFailureRestoresHash(t *testing.T) {
	f := newFixture()
	u := &domain.User{UserID: "u1", Email: "a@x.com", PasswordHash: "old"}
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(u, nil)
	f.hasher.On("Hash", "brandnew").Return("new", nil)
	f.tokens.On("Consume", mock.Anything, "u1", domain.TokenResetPassword, "111111").Return(nil)
	f.users.On("Save", mock.Anything, u).Return(errors.New("boom"))

	require.Error(t, f.svc.ResetPassword(context.Background(), "a@x.com", "111111", "brandnew"))
	assert.Equal(t, "old", u.PasswordHash)
}

func TestResetPassword_UnknownEmail(t *testing.T) {
	f := newFixture()
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(nil, domain.ErrNotFound)

	err := f.svc.ResetPassword(context.Background(), "a@x.com", "111111", "brandnew")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

// --- Login ---

func TestLogin_HappyPath(t *testing.T) {
	f := newFixture()
	u := &domain.User{UserID: "u1", Email: "a@x.com", Username: "alice", PasswordHash: "h", Enabled: true,
		Roles: []string{"user", "admin"}, Avatar: "pic.png"}
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(u, nil)
	f.hasher.On("Verify", "secret1", "h").Return(true, nil)
	f.sessions.On("Issue", "alice", []string{"ROLE_ADMIN", "ROLE_USER"}).Return("jwt-token", nil)

	res, err := f.svc.Login(context.Background(), "a@x.com", "secret1")

	require.NoError(t, err)
	assert.Equal(t, &domain.LoginResult{
		Token: "jwt-token", Username: "alice", Roles: []string{"ROLE_ADMIN", "ROLE_USER"}, Avatar: "pic.png",
	}, res)
	f.assertAll(t)
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newFixture()
	u := &domain.User{UserID: "u1", Email: "a@x.com", PasswordHash: "h", Enabled: true}
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(u, nil)
	f.hasher.On("Verify", "nope", "h").Return(false, nil)

	_, err := f.svc.Login(context.Background(), "a@x.com", "nope")

	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))
	f.sessions.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
}

func TestLogin_UnknownEmailLooksLikeWrongPassword(t *testing.T) {
	f := newFixture()
	f.users.On("GetByEmail", mock.Anything, "ghost@x.com").Return(nil, domain.ErrNotFound)
	f.hasher.On("Hash", mock.Anything).Return("dummy", nil).Once()
	f.hasher.On("Verify", "secret1", "dummy").Return(false, nil)

	_, err := f.svc.Login(context.Background(), "ghost@x.com", "secret1")

	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))
	assert.False(t, errors.Is(err, domain.ErrNotFound))
	f.hasher.AssertExpectations(t)
}

func TestLogin_DisabledAccount(t *testing.T) {
	f := newFixture()
	u := &domain.User{UserID: "u1", Email: "a@x.com", PasswordHash: "h", Enabled: false}
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(u, nil)
	f.hasher.On("Verify", "secret1", "h").Return(true, nil)

	_, err := f.svc.Login(context.Background(), "a@x.com", "secret1")

	assert.True(t, errors.Is(err, domain.ErrAccountNotEnabled))
	f.sessions.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
}

func TestLogin_DisabledAccountWrongPasswordStaysGeneric(t *testing.T) {
	f := newFixture()
	u := &domain.User{UserID: "u1", Email: "a@x.com", PasswordHash: "h", Enabled: false}
	f.users.On("GetByEmail", mock.Anything, "a@x.com").Return(u, nil)
	f.hasher.On("Verify", "nope", "h").Return(false, nil)

	_, err := f.svc.Login(context.Background(), "a@x.com", "nope")
	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))
}

// --- ChangePassword ---

func TestChangePassword_HappyPath(t *testing.T) {
	f := newFixture()
	u := &domain.User{UserID: "u1", Username: "alice", PasswordHash: "h"}
	f.users.On("GetByUsername", mock.Anything, "alice").Return(u, nil)
	f.hasher.On("Verify", "old-pass", "h").Return(true, nil)
	f.hasher.On("Hash", "new-pass").Return("h2", nil)
	f.users.On("Save", mock.Anything, u).Return(nil)

	err := f.svc.ChangePassword(context.Background(), "alice", domain.ChangePasswordRequest{
		CurrentPassword: "old-pass", NewPassword: "new-pass", ConfirmNewPassword: "new-pass",
	})

	require.NoError(t, err)
	assert.Equal(t, "h2", u.PasswordHash)
	f.assertAll(t)
}

func TestChangePassword_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		req     domain.ChangePasswordRequest
		matches bool
		want    error
	}{
		{"wrong current", domain.ChangePasswordRequest{CurrentPassword: "bad", NewPassword: "new-pass", ConfirmNewPassword: "new-pass"}, false, domain.ErrInvalidCredentials},
		{"confirmation mismatch", domain.ChangePasswordRequest{CurrentPassword: "old-pass", NewPassword: "new-pass", ConfirmNewPassword: "other"}, true, domain.ErrBadRequest},
		{"same as current", domain.ChangePasswordRequest{CurrentPassword: "old-pass", NewPassword: "old-pass", ConfirmNewPassword: "old-pass"}, true, domain.ErrBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			u := &domain.User{UserID: "u1", Username: "alice", PasswordHash: "h"}
			f.users.On("GetByUsername", mock.Anything, "alice").Return(u, nil)
			f.hasher.On("Verify", tc.req.CurrentPassword, "h").Return(tc.matches, nil)

			err := f.svc.ChangePassword(context.Background(), "alice", tc.req)

			assert.True(t, errors.Is(err, tc.want))
			assert.Equal(t, "h", u.PasswordHash)
			f.users.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		})
	}
}

// --- Profile ---

func TestProfile(t *testing.T) {
	f := newFixture()
	f.users.On("GetByUsername", mock.Anything, "alice").Return(&domain.User{
		Username: "alice", Email: "a@x.com", Roles: []string{"ROLE_USER"}, Avatar: "pic.png",
	}, nil)

	p, err := f.svc.Profile(context.Background(), "alice")

	require.NoError(t, err)
	assert.Equal(t, &domain.Profile{Username: "alice", Email: "a@x.com", Roles: []string{"ROLE_USER"}, Avatar: "pic.png"}, p)
}

func TestProfile_NotFound(t *testing.T) {
	f := newFixture()
	f.users.On("GetByUsername", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)

	_, err := f.svc.Profile(context.Background(), "ghost")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
