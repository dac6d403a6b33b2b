package middleware

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/chartlens/internal/csrf"
	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/handler"
)

// CSRF enforces the double-submit token on state-changing requests.
// GET, HEAD and OPTIONS pass through untouched.
func CSRF(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			if !csrf.ValidateRequest(r) {
				logger.Warn("csrf validation failed", "method", r.Method, "path", r.URL.Path)
				handler.ErrorResponse(w, r, logger, domain.Forbidden("middleware.CSRF", "Invalid or missing CSRF token. Refresh and try again."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBodySize caps the request body before anything downstream reads it.
func MaxBodySize(n int64, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				handler.ErrorResponse(w, r, logger, domain.Errorf(domain.ETOOLARGE, "middleware.MaxBodySize", "Request body is too large"))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
