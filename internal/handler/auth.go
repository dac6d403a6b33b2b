// Package handler contains the JSON HTTP handlers for the chartlens API.
//
// This file implements the account endpoints.
//
// Routes handled:
//   - POST /api/auth/register -> Register
//   - POST /api/auth/login    -> Login
//   - POST /api/auth/logout   -> Logout
package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/chartlens/internal/auth"
	"github.com/DukeRupert/chartlens/internal/csrf"
	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/service"
	"github.com/DukeRupert/chartlens/internal/session"
)

// AuthHandler handles registration and session lifecycle.
type AuthHandler struct {
	userService service.UserService
	logger      *slog.Logger
	isSecure    bool
}

// NewAuthHandler creates a new AuthHandler. isSecure sets the Secure flag on
// cookies and should be true everywhere but local development.
func NewAuthHandler(userService service.UserService, logger *slog.Logger, isSecure bool) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		logger:      logger,
		isSecure:    isSecure,
	}
}

// RegisterRoutes registers the auth routes. limit wraps the credential
// endpoints; requireUser guards logout.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, limit, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /api/auth/register", limit(http.HandlerFunc(h.Register)))
	mux.Handle("POST /api/auth/login", limit(http.HandlerFunc(h.Login)))
	mux.Handle("POST /api/auth/logout", requireUser(http.HandlerFunc(h.Logout)))
}

type registerRequest struct {
	Email      string `json:"email" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
	Name       string `json:"name" validate:"max=100"`
	InviteCode string `json:"invite_code" validate:"max=64"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User      UserResponse `json:"user"`
	CSRFToken string       `json:"csrf_token,omitempty"`
}

// Register creates the account and signs the new user in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	const op = "AuthHandler.Register"

	var req registerRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	_, err := h.userService.Register(r.Context(), domain.RegisterParams{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		InviteCode: req.InviteCode,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	h.startSession(w, r, http.StatusCreated, result)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	const op = "AuthHandler.Login"

	var req loginRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	h.startSession(w, r, http.StatusOK, result)
}

// Logout is idempotent and always clears both cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(session.CookieName); err == nil {
		if err := h.userService.Logout(r.Context(), cookie.Value); err != nil {
			h.logger.Warn("logout failed", "error", err, "user_id", auth.UserID(r.Context()))
		}
	}

	clearSessionCookie(w, h.isSecure)
	csrf.ClearCookie(w, h.isSecure)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, status int, result *domain.LoginResult) {
	token, err := csrf.GenerateToken()
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, "AuthHandler.startSession", "Failed to start session"))
		return
	}

	setSessionCookie(w, result.Token, h.isSecure)
	csrf.SetCookie(w, token, h.isSecure)

	writeJSON(w, status, AuthResponse{
		User:      userBody(result.User),
		CSRFToken: token,
	})
}

// =============================================================================
// Session Cookie Helpers
// =============================================================================

// setSessionCookie sets the HttpOnly session cookie. SameSite=Lax keeps the
// cookie on top-level navigation; state-changing routes also require CSRF.
func setSessionCookie(w http.ResponseWriter, token string, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     session.CookiePath,
		MaxAge:   session.CookieMaxAge,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     session.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
