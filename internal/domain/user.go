package domain

import (
	"strings"
	"time"
)

type User struct {
	UserID       string    `json:"id" dynamodbav:"user_id"`
	Email        string    `json:"email" dynamodbav:"email"`
	Username     string    `json:"username" dynamodbav:"username"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	Enabled      bool      `json:"enabled" dynamodbav:"enabled"`
	Roles        []string  `json:"roles" dynamodbav:"roles"`
	Avatar       string    `json:"avatar" dynamodbav:"avatar"`
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated" dynamodbav:"updated_at"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Username string `json:"username" validate:"omitempty,min=3,max=50"`
}

type VerifyRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,numeric,len=6"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	OTP         string `json:"otp" validate:"required,numeric,len=6"`
	NewPassword string `json:"new_password" validate:"required,min=6,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword    string `json:"current_password" validate:"required"`
	NewPassword        string `json:"new_password" validate:"required,min=6,max=72"`
	ConfirmNewPassword string `json:"confirm_new_password" validate:"required,eqfield=NewPassword"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token    string   `json:"token"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Avatar   string   `json:"avatar"`
}

// Profile is the public view of the authenticated user.
type Profile struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	Avatar   string   `json:"avatar"`
}

// NormalizeEmail lower-cases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
