package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string       `env:"APP_PORT" envDefault:"3000"`
	AppEnv         string       `env:"APP_ENV" envDefault:"development"`
	AppBaseURL     string       `env:"APP_BASE_URL" envDefault:"http://localhost:3000"` // prefix for links in outgoing emails
	AWSRegion      string       `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpointURL string       `env:"AWS_ENDPOINT_URL"` // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string       `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey   string       `env:"AWS_SECRET_ACCESS_KEY"`
	DynamoTables   DynamoTables
	TokenStore     string `env:"TOKEN_STORE" envDefault:"dynamo"` // "dynamo" or "redis"
	Redis          Redis
	OTP            OTP
	PasswordHasher string `env:"PASSWORD_HASHER" envDefault:"bcrypt"` // "bcrypt" or "argon2id"
	BcryptCost     int    `env:"BCRYPT_COST" envDefault:"12"`
	JWT            JWT
	Notify         Notify
	SMTPHost       string   `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort       string   `env:"SMTP_PORT" envDefault:"1025"`
	SMTPFrom       string   `env:"SMTP_FROM" envDefault:"noreply@example.com"`
	SMTPUsername   string   `env:"SMTP_USERNAME"`
	SMTPPassword   string   `env:"SMTP_PASSWORD"`
	SNSRegion      string   `env:"SNS_REGION" envDefault:"us-east-1"`
	SNSTopicARN    string   `env:"SNS_TOPIC_ARN"`
	DefaultAvatar  string   `env:"DEFAULT_AVATAR_URL"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","` // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users              string `env:"DYNAMO_TABLE_USERS" envDefault:"users"`
	VerificationTokens string `env:"DYNAMO_TABLE_VERIFICATION_TOKENS" envDefault:"verification_tokens"`
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// OTP holds the token lifecycle timings. Retention is how long a dead token
// is kept after expiry before storage purges it.
type OTP struct {
	TTL       time.Duration `env:"OTP_TTL" envDefault:"10m"`
	Throttle  time.Duration `env:"OTP_THROTTLE" envDefault:"1m"`
	Retention time.Duration `env:"OTP_RETENTION" envDefault:"24h"`
}

// JWT selects HS256 when Secret is set, RS256 from the key files otherwise.
type JWT struct {
	Secret         string        `env:"JWT_SECRET"`
	PrivateKeyPath string        `env:"JWT_PRIVATE_KEY_PATH" envDefault:"./private_key.pem"`
	PublicKeyPath  string        `env:"JWT_PUBLIC_KEY_PATH" envDefault:"./public_key.pem"`
	Expiry         time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`
	Issuer         string        `env:"JWT_ISSUER" envDefault:"go-otp-auth"`
}

type Notify struct {
	Channel    string  `env:"NOTIFY_CHANNEL" envDefault:"smtp"` // "smtp" or "sns"
	Workers    int     `env:"NOTIFY_WORKERS" envDefault:"2"`
	QueueSize  int     `env:"NOTIFY_QUEUE_SIZE" envDefault:"100"`
	RatePerSec float64 `env:"NOTIFY_RATE_PER_SEC" envDefault:"0"`
}

// IsProduction reports whether APP_ENV selects production behaviour.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load reads all configuration from environment variables. Malformed values
// are errors, never silently replaced by defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.TokenStore = strings.ToLower(cfg.TokenStore)
	cfg.PasswordHasher = strings.ToLower(cfg.PasswordHasher)
	cfg.Notify.Channel = strings.ToLower(cfg.Notify.Channel)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.OTP.TTL <= 0:
		return fmt.Errorf("OTP_TTL must be positive, got %s", c.OTP.TTL)
	case c.OTP.Throttle < 0:
		return fmt.Errorf("OTP_THROTTLE must not be negative, got %s", c.OTP.Throttle)
	case c.OTP.Retention < 0:
		return fmt.Errorf("OTP_RETENTION must not be negative, got %s", c.OTP.Retention)
	case c.JWT.Expiry <= 0:
		return fmt.Errorf("JWT_EXPIRY must be positive, got %s", c.JWT.Expiry)
	case c.Notify.RatePerSec < 0:
		return fmt.Errorf("NOTIFY_RATE_PER_SEC must not be negative, got %g", c.Notify.RatePerSec)
	}
	if !oneOf(c.TokenStore, "dynamo", "redis") {
		return fmt.Errorf("TOKEN_STORE must be dynamo or redis, got %q", c.TokenStore)
	}
	if !oneOf(c.PasswordHasher, "bcrypt", "argon2id") {
		return fmt.Errorf("PASSWORD_HASHER must be bcrypt or argon2id, got %q", c.PasswordHasher)
	}
	if !oneOf(c.Notify.Channel, "smtp", "sns") {
		return fmt.Errorf("NOTIFY_CHANNEL must be smtp or sns, got %q", c.Notify.Channel)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
