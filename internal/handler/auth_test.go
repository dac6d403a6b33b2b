package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passthrough(next http.Handler) http.Handler { return next }

func newAuthMux(users *mockUserService) *http.ServeMux {
	mux := http.NewServeMux()
	NewAuthHandler(users, testLogger(), true).RegisterRoutes(mux, passthrough, passthrough)
	return mux
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func cookieByName(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAuthHandler_Register(t *testing.T) {
	var got domain.RegisterParams
	users := &mockUserService{
		RegisterFunc: func(ctx context.Context, params domain.RegisterParams) (*domain.User, error) {
			got = params
			return testUser(), nil
		},
		LoginFunc: func(ctx context.Context, email, password string) (*domain.LoginResult, error) {
			return &domain.LoginResult{User: testUser(), Token: strings.Repeat("a", 64)}, nil
		},
	}

	rec := httptest.NewRecorder()
	newAuthMux(users).ServeHTTP(rec, postJSON("/api/auth/register",
		`{"email":"trader@example.com","password":"Candl3sticks","name":"Tess","invite_code":"BETA"}`))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "BETA", got.InviteCode)

	sess := cookieByName(rec, session.CookieName)
	require.NotNil(t, sess)
	assert.True(t, sess.HttpOnly)
	assert.True(t, sess.Secure)
	assert.Equal(t, strings.Repeat("a", 64), sess.Value)

	csrfCookie := cookieByName(rec, session.CSRFCookieName)
	require.NotNil(t, csrfCookie)
	assert.False(t, csrfCookie.HttpOnly)

	var body AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, csrfCookie.Value, body.CSRFToken)
	assert.Equal(t, "trader@example.com", body.User.Email)
	assert.NotContains(t, rec.Body.String(), "secret", "hash and Stripe ids stay server-side")
}

func TestAuthHandler_Register_Validation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"bad email", `{"email":"nope","password":"Candl3sticks"}`, "email"},
		{"short password", `{"email":"a@example.com","password":"short"}`, "password"},
		{"missing password", `{"email":"a@example.com"}`, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newAuthMux(&mockUserService{}).ServeHTTP(rec, postJSON("/api/auth/register", tt.body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeError(t, rec)
			assert.Contains(t, body.Error.Fields, tt.field)
		})
	}

	rec := httptest.NewRecorder()
	newAuthMux(&mockUserService{}).ServeHTTP(rec, postJSON("/api/auth/register", `{"email":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	newAuthMux(&mockUserService{}).ServeHTTP(rec, postJSON("/api/auth/register", `{"email":"a@example.com","password":"Candl3sticks","admin":true}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestAuthHandler_Register_Conflict(t *testing.T) {
	users := &mockUserService{
		RegisterFunc: func(ctx context.Context, params domain.RegisterParams) (*domain.User, error) {
			return nil, domain.Conflict("UserService.Register", "Email already registered")
		},
	}

	rec := httptest.NewRecorder()
	newAuthMux(users).ServeHTTP(rec, postJSON("/api/auth/register", `{"email":"a@example.com","password":"Candl3sticks"}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Nil(t, cookieByName(rec, session.CookieName))
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	users := &mockUserService{
		LoginFunc: func(ctx context.Context, email, password string) (*domain.LoginResult, error) {
			return nil, domain.Unauthorized("UserService.Login", "Invalid email or password")
		},
	}

	rec := httptest.NewRecorder()
	newAuthMux(users).ServeHTTP(rec, postJSON("/api/auth/login", `{"email":"a@example.com","password":"wrong"}`))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid email or password", decodeError(t, rec).Error.Message)
	assert.Nil(t, cookieByName(rec, session.CookieName))
}

func TestAuthHandler_Logout(t *testing.T) {
	var loggedOut string
	users := &mockUserService{
		LogoutFunc: func(ctx context.Context, token string) error {
			loggedOut = token
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "tok"})
	rec := httptest.NewRecorder()
	newAuthMux(users).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "tok", loggedOut)

	sess := cookieByName(rec, session.CookieName)
	require.NotNil(t, sess)
	assert.Equal(t, -1, sess.MaxAge)
	require.NotNil(t, cookieByName(rec, session.CSRFCookieName))
}
