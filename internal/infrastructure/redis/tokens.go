// Package redis is a Redis-backed verification token store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-otp-auth/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix        = "otp"
	maxTokenAttempts = 8
)

// Hash fields of a stored token.
const (
	fieldCode      = "code"
	fieldIssuedAt  = "issued_at"
	fieldExpiresAt = "expires_at"
)

// TokenStore keeps one hash per (user, purpose) at otp:{user}:{purpose}.
// Keys expire retention after the token itself does.
type TokenStore struct {
	client    *goredis.Client
	retention time.Duration
}

func NewTokenStore(client *goredis.Client, retention time.Duration) *TokenStore {
	return &TokenStore{client: client, retention: retention}
}

func key(userID string, purpose domain.TokenType) string {
	return keyPrefix + ":" + userID + ":" + string(purpose)
}

// Update runs fn between WATCH and MULTI/EXEC on the slot's key. When
// another client modifies the key first, fn is rerun on fresh state.
func (s *TokenStore) Update(ctx context.Context, userID string, purpose domain.TokenType, fn func(*domain.TokenSlot) error) error {
	k := key(userID, purpose)
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			cur, err := load(ctx, tx, k, userID, purpose)
			if err != nil {
				return err
			}
			slot := domain.NewTokenSlot(userID, purpose, cur)
			if err := fn(slot); err != nil {
				return err
			}
			return s.commit(ctx, tx, k, slot)
		}, k)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	zap.L().Warn("token update abandoned after repeated conflicts", zap.String("key", k), zap.Int("attempts", maxTokenAttempts))
	return fmt.Errorf("token changed concurrently, try again: %w", domain.ErrConflict)
}

func load(ctx context.Context, tx *goredis.Tx, k, userID string, purpose domain.TokenType) (*domain.VerificationToken, error) {
	fields, err := tx.HGetAll(ctx, k).Result()
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	issuedAt, err := time.Parse(time.RFC3339Nano, fields[fieldIssuedAt])
	if err != nil {
		return nil, fmt.Errorf("decode %s of %s: %w", fieldIssuedAt, k, err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("decode %s of %s: %w", fieldExpiresAt, k, err)
	}
	return &domain.VerificationToken{
		UserID:    userID,
		Purpose:   purpose,
		Code:      fields[fieldCode],
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *TokenStore) commit(ctx context.Context, tx *goredis.Tx, k string, slot *domain.TokenSlot) error {
	put, remove := slot.Changes()
	if put == nil && !remove {
		return nil
	}
	_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if put == nil {
			pipe.Del(ctx, k)
			return nil
		}
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k,
			fieldCode, put.Code,
			fieldIssuedAt, put.IssuedAt.UTC().Format(time.RFC3339Nano),
			fieldExpiresAt, put.ExpiresAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.ExpireAt(ctx, k, put.ExpiresAt.Add(s.retention))
		return nil
	})
	return err
}
