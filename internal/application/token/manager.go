// Package token implements the verification-token lifecycle: issuing,
// throttled re-issuing, and single-use consumption of OTP challenges.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/pkg/otp"
	"go.uber.org/zap"
)

// Store persists tokens keyed by (user, purpose). Update must run fn and
// commit the slot's pending writes as one atomic unit, retrying fn on a
// concurrent modification of the same key.
type Store interface {
	Update(ctx context.Context, userID string, purpose domain.TokenType, fn func(*domain.TokenSlot) error) error
}

// Config holds the lifecycle timings.
type Config struct {
	TTL      time.Duration
	Throttle time.Duration
}

var DefaultConfig = Config{TTL: 10 * time.Minute, Throttle: time.Minute}

type Manager struct {
	store Store
	gen   otp.Generator
	cfg   Config
	now   func() time.Time
}

func NewManager(store Store, gen otp.Generator, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig.TTL
	}
	if cfg.Throttle < 0 {
		cfg.Throttle = DefaultConfig.Throttle
	}
	return &Manager{store: store, gen: gen, cfg: cfg, now: time.Now}
}

// Issue supersedes any token for (userID, purpose) with a fresh one and
// returns its plaintext code.
func (m *Manager) Issue(ctx context.Context, userID string, purpose domain.TokenType) (string, error) {
	if err := checkPurpose(purpose); err != nil {
		return "", err
	}
	var code string
	err := m.store.Update(ctx, userID, purpose, func(slot *domain.TokenSlot) error {
		var err error
		code, err = m.replace(slot)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("issue %s token: %w", purpose, err)
	}
	return code, nil
}

// Regenerate re-issues an existing token once the throttle window since its
// issue time has passed. Expired tokens may be regenerated.
func (m *Manager) Regenerate(ctx context.Context, userID string, purpose domain.TokenType) (string, error) {
	if err := checkPurpose(purpose); err != nil {
		return "", err
	}
	var code string
	err := m.store.Update(ctx, userID, purpose, func(slot *domain.TokenSlot) error {
		prev, ok := slot.FindLatest()
		if !ok {
			return domain.ErrNoPriorToken
		}
		if m.now().Sub(prev.IssuedAt) < m.cfg.Throttle {
			return domain.ErrThrottled
		}
		var err error
		code, err = m.replace(slot)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("regenerate %s token: %w", purpose, err)
	}
	return code, nil
}

// Verify consumes the (userID, purpose) token when code matches and the
// token has not expired. Failed attempts leave the token untouched.
func (m *Manager) Verify(ctx context.Context, userID string, purpose domain.TokenType, code string) error {
	return m.Consume(ctx, userID, purpose, code, nil)
}

// Consume is Verify with a callback. The token delete commits first and
// onValid runs exactly once afterwards, outside the unit of work. If onValid
// fails the consumed token is put back, unless a newer token has taken its
// place, and onValid's error is returned.
func (m *Manager) Consume(ctx context.Context, userID string, purpose domain.TokenType, code string, onValid func(context.Context) error) error {
	if err := checkPurpose(purpose); err != nil {
		return err
	}
	var consumed domain.VerificationToken
	err := m.store.Update(ctx, userID, purpose, func(slot *domain.TokenSlot) error {
		cur, ok := slot.FindLatest()
		if !ok {
			return domain.ErrNotFound
		}
		if cur.ExpiredAt(m.now()) {
			return domain.ErrExpired
		}
		if !m.gen.Validate(cur.Code, code) {
			return domain.ErrMismatch
		}
		consumed = *cur
		slot.Delete(*cur)
		return nil
	})
	if err != nil {
		return fmt.Errorf("verify %s token: %w", purpose, err)
	}
	if onValid == nil {
		return nil
	}
	if err := onValid(ctx); err != nil {
		if rerr := m.restore(ctx, consumed); rerr != nil {
			zap.L().Error("failed to restore consumed token",
				zap.String("user_id", userID),
				zap.String("purpose", string(purpose)),
				zap.Error(rerr),
			)
		}
		return err
	}
	return nil
}

// restore writes back a consumed token when its slot is still empty. A token
// issued in the meantime wins.
func (m *Manager) restore(ctx context.Context, t domain.VerificationToken) error {
	return m.store.Update(ctx, t.UserID, t.Purpose, func(slot *domain.TokenSlot) error {
		if _, ok := slot.FindLatest(); ok {
			return nil
		}
		return slot.Save(t)
	})
}

func (m *Manager) replace(slot *domain.TokenSlot) (string, error) {
	code, err := m.gen.Generate()
	if err != nil {
		return "", err
	}
	now := m.now().UTC()
	slot.DeleteAll()
	if err := slot.Save(domain.VerificationToken{
		UserID:    slot.UserID(),
		Purpose:   slot.Purpose(),
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}); err != nil {
		return "", err
	}
	return code, nil
}

func checkPurpose(p domain.TokenType) error {
	if !p.Valid() {
		return fmt.Errorf("unknown token type %q: %w", p, domain.ErrBadRequest)
	}
	return nil
}
