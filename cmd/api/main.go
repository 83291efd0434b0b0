package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-otp-auth/internal/application/notification"
	"github.com/go-otp-auth/internal/config"
	"github.com/go-otp-auth/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-otp-auth/internal/infrastructure/jwt"
	redisinfra "github.com/go-otp-auth/internal/infrastructure/redis"
	"github.com/go-otp-auth/internal/infrastructure/smtp"
	"github.com/go-otp-auth/internal/infrastructure/sns"
	"github.com/go-otp-auth/internal/pkg/password"
	transporthttp "github.com/go-otp-auth/internal/transport/http"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file found, reading from environment")
	}

	ctx := context.Background()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient, err := dynamo.NewClient(ctx, cfg)
	if err != nil {
		logger.Fatal("dynamodb client", zap.Error(err))
	}
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)

	tokens, closeTokens, err := newTokenStore(ctx, cfg, dynamoClient)
	if err != nil {
		logger.Fatal("token store", zap.String("backend", cfg.TokenStore), zap.Error(err))
	}
	defer closeTokens()

	hasher, err := password.New(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		logger.Fatal("password hasher", zap.Error(err))
	}

	sessions, err := jwtinfra.NewProvider(cfg.JWT)
	if err != nil {
		logger.Fatal("jwt provider", zap.Error(err))
	}

	sender, err := newSender(ctx, cfg)
	if err != nil {
		logger.Fatal("notification sender", zap.String("channel", cfg.Notify.Channel), zap.Error(err))
	}
	dispatcher := notification.NewDispatcher(sender, notification.Config{
		Workers:    cfg.Notify.Workers,
		QueueSize:  cfg.Notify.QueueSize,
		RatePerSec: cfg.Notify.RatePerSec,
		BaseURL:    cfg.AppBaseURL,
		TokenTTL:   cfg.OTP.TTL,
	})

	deps := &transporthttp.Deps{
		Users:    dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users),
		Tokens:   tokens,
		Hasher:   hasher,
		Sessions: sessions,
		Notifier: dispatcher,
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.AppPort),
			zap.String("env", cfg.AppEnv),
			zap.String("token_store", cfg.TokenStore),
			zap.String("notify_channel", cfg.Notify.Channel),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	// Queued notifications get whatever is left of the shutdown window.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("notification queue not drained", zap.Error(err), zap.Uint64("dropped", dispatcher.Dropped()))
	}
	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// newTokenStore picks the verification token backend named by TOKEN_STORE.
func newTokenStore(ctx context.Context, cfg *config.Config, client dynamo.API) (transporthttp.TokenStore, func(), error) {
	switch cfg.TokenStore {
	case "", "dynamo":
		return dynamo.NewTokenRepo(client, cfg.DynamoTables.VerificationTokens, cfg.OTP.Retention), func() {}, nil
	case "redis":
		rdb, err := redisinfra.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return redisinfra.NewTokenStore(rdb, cfg.OTP.Retention), func() { _ = rdb.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown token store %q", cfg.TokenStore)
}

// newSender picks the outbound email channel named by NOTIFY_CHANNEL.
func newSender(ctx context.Context, cfg *config.Config) (notification.Sender, error) {
	switch cfg.Notify.Channel {
	case "", "smtp":
		return smtp.NewMailer(cfg), nil
	case "sns":
		return sns.NewTopicSender(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown notification channel %q", cfg.Notify.Channel)
}
