package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-otp-auth/internal/domain"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Envelope is the uniform response wrapper.
type Envelope struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	ErrorCode string      `json:"error_code,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// statusByCode maps domain error codes to HTTP statuses. Anything missing is a 500.
var statusByCode = map[string]int{
	domain.CodeBadRequest:         http.StatusBadRequest,
	domain.CodeInvalidCredentials: http.StatusUnauthorized,
	domain.CodeMismatch:           http.StatusUnauthorized,
	domain.CodeExpired:            http.StatusUnauthorized,
	domain.CodeUnauthorized:       http.StatusUnauthorized,
	domain.CodeAccountNotEnabled:  http.StatusForbidden,
	domain.CodeForbidden:          http.StatusForbidden,
	domain.CodeNotFound:           http.StatusNotFound,
	domain.CodeNoPriorToken:       http.StatusNotFound,
	domain.CodeDuplicateEmail:     http.StatusConflict,
	domain.CodeDuplicateUsername:  http.StatusConflict,
	domain.CodeConflict:           http.StatusConflict,
	domain.CodeThrottled:          http.StatusTooManyRequests,
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, msg string, data interface{}) {
	writeJSON(w, status, Envelope{Success: true, Message: msg, Data: data})
}

func writeFail(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, Envelope{Success: false, Message: msg, ErrorCode: code})
}

// writeError renders a service error. Domain errors carry their own message;
// anything else is logged and reported as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		zap.L().Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeFail(w, http.StatusInternalServerError, domain.CodeInternal, "internal server error")
		return
	}
	zap.L().Debug("request rejected", zap.String("path", r.URL.Path), zap.String("code", code))
	writeFail(w, status, code, err.Error())
}

// decode reads a JSON body into dst, rejecting oversized or malformed input.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFail(w, http.StatusRequestEntityTooLarge, domain.CodeBadRequest, "request body too large")
			return false
		}
		writeFail(w, http.StatusBadRequest, domain.CodeBadRequest, "invalid request body")
		return false
	}
	return true
}
