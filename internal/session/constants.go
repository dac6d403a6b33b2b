// Package session holds the cookie names shared by handlers and middleware.
package session

const (
	// CookieName is the cookie that stores the raw session token.
	CookieName = "chartlens_session"

	// CSRFCookieName is the double-submit CSRF cookie, readable by scripts.
	CSRFCookieName = "chartlens_csrf"

	// CSRFHeaderName is where API clients echo the CSRF cookie value.
	CSRFHeaderName = "X-CSRF-Token"

	CookiePath = "/"

	// CookieMaxAge matches service.SessionDuration (7 days).
	CookieMaxAge = 7 * 24 * 60 * 60
)
