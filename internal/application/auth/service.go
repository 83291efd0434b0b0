// Package auth implements the account use cases: registration, OTP
// verification, login, and password recovery.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/pkg/id"
	"go.uber.org/zap"
)

type Service interface {
	Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error)
	VerifyAccount(ctx context.Context, email, otp string) error
	RegenerateOTP(ctx context.Context, email string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, otp, newPassword string) error
	Login(ctx context.Context, email, password string) (*domain.LoginResult, error)
	ChangePassword(ctx context.Context, username string, req domain.ChangePasswordRequest) error
	Profile(ctx context.Context, username string) (*domain.Profile, error)
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, u *domain.User) error
	Save(ctx context.Context, u *domain.User) error
	Delete(ctx context.Context, u *domain.User) error
}

type tokenManager interface {
	Issue(ctx context.Context, userID string, purpose domain.TokenType) (string, error)
	Regenerate(ctx context.Context, userID string, purpose domain.TokenType) (string, error)
	Consume(ctx context.Context, userID string, purpose domain.TokenType, code string, onValid func(context.Context) error) error
}

type credentialHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) (bool, error)
}

type sessionIssuer interface {
	Issue(subject string, roles []string) (string, error)
}

type notifier interface {
	SendAsync(email, code string, purpose domain.TokenType)
}

type ServiceDeps struct {
	UserRepo      userStore
	Tokens        tokenManager
	Hasher        credentialHasher
	Sessions      sessionIssuer
	Notifier      notifier
	DefaultAvatar string
}

type service struct {
	users         userStore
	tokens        tokenManager
	hasher        credentialHasher
	sessions      sessionIssuer
	notifier      notifier
	defaultAvatar string
	now           func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewService(deps ServiceDeps) Service {
	return &service{
		users:         deps.UserRepo,
		tokens:        deps.Tokens,
		hasher:        deps.Hasher,
		sessions:      deps.Sessions,
		notifier:      deps.Notifier,
		defaultAvatar: deps.DefaultAvatar,
		now:           time.Now,
	}
}

func (s *service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error) {
	email := domain.NormalizeEmail(req.Email)
	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, domain.ErrDuplicateEmail
	}
	if req.Username != "" {
		exists, err := s.users.ExistsByUsername(ctx, req.Username)
		if err != nil {
			return nil, fmt.Errorf("check username: %w", err)
		}
		if exists {
			return nil, domain.ErrDuplicateUsername
		}
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Email:        email,
		Username:     req.Username,
		PasswordHash: hash,
		Enabled:      false,
		Roles:        []string{domain.RoleUser},
		Avatar:       s.defaultAvatar,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.Username == "" {
		u.Username = u.UserID
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	code, err := s.tokens.Issue(ctx, u.UserID, domain.TokenRegistration)
	if err != nil {
		if delErr := s.users.Delete(ctx, u); delErr != nil {
			zap.L().Error("failed to roll back registration", zap.String("user_id", u.UserID), zap.Error(delErr))
		}
		return nil, err
	}
	s.notifier.SendAsync(u.Email, code, domain.TokenRegistration)
	return u, nil
}

func (s *service) VerifyAccount(ctx context.Context, email, otp string) error {
	u, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}
	return s.tokens.Consume(ctx, u.UserID, domain.TokenRegistration, otp, func(ctx context.Context) error {
		if u.Enabled {
			return nil
		}
		u.Enabled = true
		u.UpdatedAt = s.now().UTC()
		if err := s.users.Save(ctx, u); err != nil {
			u.Enabled = false
			return fmt.Errorf("enable user: %w", err)
		}
		return nil
	})
}

func (s *service) RegenerateOTP(ctx context.Context, email string) error {
	u, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}
	code, err := s.tokens.Regenerate(ctx, u.UserID, domain.TokenRegistration)
	if err != nil {
		return err
	}
	s.notifier.SendAsync(u.Email, code, domain.TokenRegistration)
	return nil
}

// ForgotPassword does not reveal whether the email is registered: unknown
// addresses succeed without issuing anything.
func (s *service) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.lookup(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		zap.L().Debug("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	code, err := s.tokens.Issue(ctx, u.UserID, domain.TokenResetPassword)
	if err != nil {
		return err
	}
	s.notifier.SendAsync(u.Email, code, domain.TokenResetPassword)
	return nil
}

func (s *service) ResetPassword(ctx context.Context, email, otp, newPassword string) error {
	u, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}
	previous := u.PasswordHash
	return s.tokens.Consume(ctx, u.UserID, domain.TokenResetPassword, otp, func(ctx context.Context) error {
		// Hashed only once the code is accepted.
		hash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = hash
		u.UpdatedAt = s.now().UTC()
		if err := s.users.Save(ctx, u); err != nil {
			u.PasswordHash = previous
			return fmt.Errorf("update password: %w", err)
		}
		return nil
	})
}

// Login reports ErrInvalidCredentials for both an unknown email and a wrong
// password, and only reveals ErrAccountNotEnabled once the password matched.
func (s *service) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	u, err := s.lookup(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		s.burnHash(password)
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, domain.ErrInvalidCredentials
	}
	if !u.Enabled {
		return nil, domain.ErrAccountNotEnabled
	}
	roles := domain.Authorities(u)
	token, err := s.sessions.Issue(u.Username, roles)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &domain.LoginResult{Token: token, Username: u.Username, Roles: roles, Avatar: u.Avatar}, nil
}

func (s *service) ChangePassword(ctx context.Context, username string, req domain.ChangePasswordRequest) error {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(req.CurrentPassword, u.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return domain.ErrInvalidCredentials
	}
	if req.NewPassword != req.ConfirmNewPassword {
		return fmt.Errorf("new password confirmation does not match: %w", domain.ErrBadRequest)
	}
	if req.NewPassword == req.CurrentPassword {
		return fmt.Errorf("new password must differ from the current one: %w", domain.ErrBadRequest)
	}
	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = hash
	u.UpdatedAt = s.now().UTC()
	return s.users.Save(ctx, u)
}

func (s *service) Profile(ctx context.Context, username string) (*domain.Profile, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return &domain.Profile{Username: u.Username, Email: u.Email, Roles: domain.Authorities(u), Avatar: u.Avatar}, nil
}

func (s *service) lookup(ctx context.Context, email string) (*domain.User, error) {
	u, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// burnHash spends one verify against a fixed hash so unknown emails take
// about as long as wrong passwords.
func (s *service) burnHash(password string) {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("not-a-real-password")
		if err != nil {
			zap.L().Warn("could not prepare dummy password hash", zap.Error(err))
			return
		}
		s.dummyHash = h
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(password, s.dummyHash)
	}
}
