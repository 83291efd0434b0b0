package domain

import (
	"fmt"
	"time"
)

// TokenType is the workflow a verification token authorizes.
type TokenType string

const (
	TokenRegistration  TokenType = "REGISTRATION"
	TokenResetPassword TokenType = "RESET_PASSWORD"
	TokenVerifyEmail   TokenType = "VERIFY_EMAIL"
)

// Valid reports whether t is one of the known token types.
func (t TokenType) Valid() bool {
	switch t {
	case TokenRegistration, TokenResetPassword, TokenVerifyEmail:
		return true
	}
	return false
}

// VerificationToken is one outstanding OTP challenge.
// At most one exists per (UserID, Purpose).
type VerificationToken struct {
	UserID    string    `json:"user_id" dynamodbav:"user_id"`
	Purpose   TokenType `json:"type" dynamodbav:"type"`
	Code      string    `json:"-" dynamodbav:"code"`
	IssuedAt  time.Time `json:"issued_at" dynamodbav:"issued_at"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"expires_at"`
}

// ExpiredAt reports whether the token is no longer valid at now.
func (v *VerificationToken) ExpiredAt(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

func (v *VerificationToken) same(o *VerificationToken) bool {
	return v.Code == o.Code && v.IssuedAt.Equal(o.IssuedAt)
}

// TokenSlot is the unit of work a token store hands to its callers for a
// single (user, purpose) key. It starts from the state the store loaded and
// buffers writes; the store commits them atomically after the callback
// returns without error.
type TokenSlot struct {
	userID  string
	purpose TokenType
	current *VerificationToken
	next    *VerificationToken
	cleared bool
}

// NewTokenSlot wraps the loaded state of a slot. current may be nil.
func NewTokenSlot(userID string, purpose TokenType, current *VerificationToken) *TokenSlot {
	return &TokenSlot{userID: userID, purpose: purpose, current: current}
}

func (s *TokenSlot) UserID() string     { return s.userID }
func (s *TokenSlot) Purpose() TokenType { return s.purpose }

// FindLatest returns the live token as seen through the pending writes.
func (s *TokenSlot) FindLatest() (*VerificationToken, bool) {
	v := s.visible()
	if v == nil {
		return nil, false
	}
	cp := *v
	return &cp, true
}

// DeleteAll drops every token for the slot, including a pending save.
func (s *TokenSlot) DeleteAll() {
	s.cleared = true
	s.next = nil
}

// Save stages t as the slot's only token.
func (s *TokenSlot) Save(t VerificationToken) error {
	if t.UserID != s.userID || t.Purpose != s.purpose {
		return fmt.Errorf("token for %s/%s saved into slot %s/%s", t.UserID, t.Purpose, s.userID, s.purpose)
	}
	s.cleared = true
	s.next = &t
	return nil
}

// Delete removes t when it is the live token; otherwise it is a no-op.
func (s *TokenSlot) Delete(t VerificationToken) {
	v := s.visible()
	if v == nil || !v.same(&t) {
		return
	}
	s.DeleteAll()
}

// Loaded returns the state the store read before the callback ran.
func (s *TokenSlot) Loaded() *VerificationToken { return s.current }

// Changes reports the writes to commit: put replaces whatever is stored,
// remove deletes the loaded token. Both false/nil means nothing to do.
func (s *TokenSlot) Changes() (put *VerificationToken, remove bool) {
	if s.next != nil {
		return s.next, false
	}
	return nil, s.cleared && s.current != nil
}

func (s *TokenSlot) visible() *VerificationToken {
	if s.next != nil {
		return s.next
	}
	if s.cleared {
		return nil
	}
	return s.current
}
