package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/authgate/internal/service"
	"github.com/utafrali/authgate/pkg/httputil"
	"github.com/utafrali/authgate/pkg/validator"
)

// Generic 500 messages, one per endpoint.
const (
	errRegister      = "Failed to send verification email."
	errVerify        = "Server error during registration"
	errLogin         = "Server error during login"
	errProtected     = "Server error"
	errRequestReset  = "Server error while requesting password reset"
	errResetPassword = "Server error during password reset"
)

// AuthHandler handles HTTP requests for the auth endpoints.
type AuthHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// Required fields are checked by the service.

// EmailRequest is the body of POST /register and POST /request-reset-password.
type EmailRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}

// VerifyRegistrationRequest is the body of POST /verify-registration.
type VerifyRegistrationRequest struct {
	Token    string `json:"token"`
	Password string `json:"password" validate:"omitempty,maxbytes=72"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password" validate:"omitempty,maxbytes=72"`
}

// ResetPasswordRequest is the body of POST /reset-password/{token}.
type ResetPasswordRequest struct {
	Password string `json:"password" validate:"omitempty,maxbytes=72"`
}

// --- Response types ---

// TokenResponse carries a session token.
type TokenResponse struct {
	Token string `json:"token"`
}

// ProtectedResponse is returned by GET /protected.
type ProtectedResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// --- Handlers ---

// Register handles POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, errRegister, h.logger)
		return
	}

	if err := h.service.BeginRegistration(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, errRegister, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Verification email sent.")
}

// VerifyRegistration handles POST /verify-registration
func (h *AuthHandler) VerifyRegistration(w http.ResponseWriter, r *http.Request) {
	var req VerifyRegistrationRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, errVerify, h.logger)
		return
	}

	if err := h.service.CompleteRegistration(r.Context(), req.Token, req.Password); err != nil {
		httputil.WriteError(w, r, err, errVerify, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "User verified and registered.")
}

// Login handles POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, errLogin, h.logger)
		return
	}

	tok, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, errLogin, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, TokenResponse{Token: tok})
}

// Protected handles GET /protected
func (h *AuthHandler) Protected(w http.ResponseWriter, r *http.Request) {
	userID, err := h.service.Authorize(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		httputil.WriteError(w, r, err, errProtected, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ProtectedResponse{
		Message: "Protected route accessed.",
		UserID:  userID,
	})
}

// RequestPasswordReset handles POST /request-reset-password
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, errRequestReset, h.logger)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, errRequestReset, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Password reset email sent")
}

// ResetPassword handles POST /reset-password/{token}
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, errResetPassword, h.logger)
		return
	}

	if err := h.service.ResetPassword(r.Context(), chi.URLParam(r, "token"), req.Password); err != nil {
		httputil.WriteError(w, r, err, errResetPassword, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Password reset successful")
}
