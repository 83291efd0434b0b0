package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
)

// Credential and token lifecycle failures. The duplicate errors also match ErrConflict.
var (
	ErrDuplicateEmail     = fmt.Errorf("email already registered: %w", ErrConflict)
	ErrDuplicateUsername  = fmt.Errorf("username already taken: %w", ErrConflict)
	ErrNoPriorToken       = errors.New("no previous OTP to regenerate")
	ErrThrottled          = errors.New("OTP requested too recently")
	ErrExpired            = errors.New("OTP expired")
	ErrMismatch           = errors.New("OTP does not match")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountNotEnabled  = errors.New("account not verified")
)

// Stable error codes surfaced to API callers.
const (
	CodeDuplicateEmail     = "DUPLICATE_EMAIL"
	CodeDuplicateUsername  = "DUPLICATE_USERNAME"
	CodeNotFound           = "NOT_FOUND"
	CodeNoPriorToken       = "NO_PRIOR_TOKEN"
	CodeThrottled          = "THROTTLED"
	CodeExpired            = "EXPIRED"
	CodeMismatch           = "MISMATCH"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountNotEnabled  = "ACCOUNT_NOT_ENABLED"
	CodeConflict           = "CONFLICT"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternal           = "INTERNAL_ERROR"
)

// The order matters: the specific duplicate errors wrap ErrConflict.
var codes = []struct {
	err  error
	code string
}{
	{ErrDuplicateEmail, CodeDuplicateEmail},
	{ErrDuplicateUsername, CodeDuplicateUsername},
	{ErrNoPriorToken, CodeNoPriorToken},
	{ErrThrottled, CodeThrottled},
	{ErrExpired, CodeExpired},
	{ErrMismatch, CodeMismatch},
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrAccountNotEnabled, CodeAccountNotEnabled},
	{ErrNotFound, CodeNotFound},
	{ErrConflict, CodeConflict},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrForbidden, CodeForbidden},
	{ErrBadRequest, CodeBadRequest},
}

// Code returns the stable error code for err, or CodeInternal when err is
// not part of the domain taxonomy.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// IsDomain reports whether err belongs to the caller-facing taxonomy.
func IsDomain(err error) bool {
	return err != nil && Code(err) != CodeInternal
}
