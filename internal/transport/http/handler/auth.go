package handler

import (
	"net/http"

	"github.com/go-otp-auth/internal/application/auth"
	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/pkg/validate"
	"github.com/go-otp-auth/internal/transport/http/middleware"
)

// AuthHandler exposes the account endpoints under /v1/auth.
type AuthHandler struct {
	svc auth.Service
}

func NewAuthHandler(svc auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// bind decodes and validates a request body, writing the failure response itself.
func bind(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if !decode(w, r, dst) {
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeFail(w, http.StatusUnprocessableEntity, domain.CodeBadRequest, err.Error())
		return false
	}
	return true
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !bind(w, r, &req) {
		return
	}
	u, err := h.svc.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "registration successful, check your email for the verification code",
		map[string]string{"username": u.Username, "email": u.Email})
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.svc.VerifyAccount(r.Context(), req.Email, req.OTP); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "account verified", nil)
}

func (h *AuthHandler) RegenerateOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.EmailRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.svc.RegenerateOTP(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "a new verification code has been sent", nil)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req domain.EmailRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "if the email is registered, a reset code has been sent", nil)
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req domain.ResetPasswordRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "password updated", nil)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !bind(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "login successful", res)
}

func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeFail(w, http.StatusUnauthorized, domain.CodeUnauthorized, "unauthorized")
		return
	}
	p, err := h.svc.Profile(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "profile", p)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeFail(w, http.StatusUnauthorized, domain.CodeUnauthorized, "unauthorized")
		return
	}
	var req domain.ChangePasswordRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.svc.ChangePassword(r.Context(), claims.Subject, req); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "password changed", nil)
}
