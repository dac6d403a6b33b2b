// Package csrf provides CSRF protection using the double-submit cookie pattern.
//
// Login sets a random token in a cookie scripts can read. State-changing
// requests must echo it in the X-CSRF-Token header (or the csrf_token form
// field for multipart uploads). A cross-origin page can make the browser send
// the cookie but cannot read it, so it cannot produce the matching header.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"

	"github.com/DukeRupert/chartlens/internal/session"
)

const (
	// FormFieldName is the multipart field accepted in place of the header.
	FormFieldName = "csrf_token"

	// TokenLength is the number of random bytes for the token (32 bytes = 256 bits).
	TokenLength = 32
)

// GenerateToken returns 32 random bytes, base64 URL-encoded.
func GenerateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// ValidateToken compares two tokens in constant time.
func ValidateToken(cookieToken, requestToken string) bool {
	if cookieToken == "" || requestToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(requestToken)) == 1
}

// ValidateRequest checks the CSRF cookie against the header, falling back to
// the form field. Reading the form field parses a multipart body, so callers
// should cap the body size first.
func ValidateRequest(r *http.Request) bool {
	cookie, err := r.Cookie(session.CSRFCookieName)
	if err != nil {
		return false
	}

	token := r.Header.Get(session.CSRFHeaderName)
	if token == "" {
		token = r.FormValue(FormFieldName)
	}
	return ValidateToken(cookie.Value, token)
}

// SetCookie sets the CSRF cookie with the same lifetime as the session.
// HttpOnly is off so the client can copy it into the header.
func SetCookie(w http.ResponseWriter, token string, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CSRFCookieName,
		Value:    token,
		Path:     session.CookiePath,
		MaxAge:   session.CookieMaxAge,
		HttpOnly: false,
		Secure:   isSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie expires the CSRF cookie.
func ClearCookie(w http.ResponseWriter, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CSRFCookieName,
		Value:    "",
		Path:     session.CookiePath,
		MaxAge:   -1,
		HttpOnly: false,
		Secure:   isSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
