package redis

import (
	"context"
	"fmt"

	"github.com/go-otp-auth/internal/config"
	goredis "github.com/redis/go-redis/v9"
)

// NewClient connects to Redis and verifies the connection with a PING.
func NewClient(ctx context.Context, cfg config.Redis) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}
