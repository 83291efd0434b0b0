package jwtinfra

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-otp-auth/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims holds the JWT payload fields. The subject is the username.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Provider signs and verifies session JWTs with either HS256 or RS256.
type Provider struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	expiry    time.Duration
	issuer    string
	now       func() time.Time
}

// NewProvider uses HS256 when cfg.Secret is set, otherwise RS256 with the
// PEM key pair at cfg.PrivateKeyPath and cfg.PublicKeyPath.
func NewProvider(cfg config.JWT) (*Provider, error) {
	if cfg.Secret != "" {
		return NewHMACProvider([]byte(cfg.Secret), cfg.Expiry, cfg.Issuer), nil
	}

	privBytes, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	privKey, err := jwt.ParseRSAPrivateKeyFromPEM(privBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pubBytes, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return &Provider{
		method:    jwt.SigningMethodRS256,
		signKey:   privKey,
		verifyKey: pubKey,
		expiry:    cfg.Expiry,
		issuer:    cfg.Issuer,
		now:       time.Now,
	}, nil
}

func NewHMACProvider(secret []byte, expiry time.Duration, issuer string) *Provider {
	return &Provider{
		method:    jwt.SigningMethodHS256,
		signKey:   secret,
		verifyKey: secret,
		expiry:    expiry,
		issuer:    issuer,
		now:       time.Now,
	}
}

// Issue signs a session token for subject carrying its role authorities.
func (p *Provider) Issue(subject string, roles []string) (string, error) {
	now := p.now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.expiry)),
		},
	}
	token := jwt.NewWithClaims(p.method, claims)
	signed, err := token.SignedString(p.signKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func (p *Provider) Verify(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return p.verifyKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
