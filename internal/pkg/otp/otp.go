package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
)

const (
	minCode = 100000
	span    = 900000 // codes in [100000, 999999]
)

// Generator issues and checks one-time passcodes.
type Generator interface {
	Generate() (string, error)
	Validate(stored, provided string) bool
}

// Numeric generates 6-digit codes uniformly over [100000, 999999].
type Numeric struct {
	rand io.Reader
}

// New returns a Numeric generator backed by crypto/rand.
func New() *Numeric {
	return &Numeric{rand: rand.Reader}
}

func (g *Numeric) Generate() (string, error) {
	n, err := rand.Int(g.rand, big.NewInt(span))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+minCode), nil
}

// Validate compares in constant time. Empty inputs never match.
func (g *Numeric) Validate(stored, provided string) bool {
	if stored == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(provided)) == 1
}
