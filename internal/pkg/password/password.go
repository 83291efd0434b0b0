package password

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies passwords. Hashes are self-describing so a
// Verify call never needs to know which algorithm produced them.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) (bool, error)
}

var ErrUnknownHash = errors.New("unrecognised password hash format")

// Bcrypt hashes with golang.org/x/crypto/bcrypt.
type Bcrypt struct {
	cost int
}

func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

func (b *Bcrypt) Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(hash), nil
}

func (b *Bcrypt) Verify(plaintext, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("bcrypt verify: %w", err)
	}
}

// Chain hashes with the preferred hasher and verifies against whichever
// algorithm produced the stored hash, so the preferred algorithm can change
// without invalidating existing passwords.
type Chain struct {
	preferred Hasher
	bcrypt    *Bcrypt
	argon     *Argon2id
}

// New returns a Chain preferring algo ("bcrypt" or "argon2id").
func New(algo string, bcryptCost int) (*Chain, error) {
	c := &Chain{bcrypt: NewBcrypt(bcryptCost), argon: NewArgon2id(DefaultArgon2Params)}
	switch algo {
	case "", "bcrypt":
		c.preferred = c.bcrypt
	case "argon2id":
		c.preferred = c.argon
	default:
		return nil, fmt.Errorf("unsupported password hasher %q", algo)
	}
	return c, nil
}

func (c *Chain) Hash(plaintext string) (string, error) {
	return c.preferred.Hash(plaintext)
}

func (c *Chain) Verify(plaintext, hash string) (bool, error) {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return c.argon.Verify(plaintext, hash)
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return c.bcrypt.Verify(plaintext, hash)
	}
	return false, ErrUnknownHash
}
