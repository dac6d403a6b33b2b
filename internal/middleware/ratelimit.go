package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/chartlens/internal/auth"
	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/handler"
	"github.com/DukeRupert/chartlens/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Limiter
// =============================================================================

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	// Allow counts one request for key. retryAfter is set when the request
	// is rejected.
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// =============================================================================
// In-memory limiter
// =============================================================================

// MemoryLimiter is a single-process fixed-window limiter.
type MemoryLimiter struct {
	maxAttempts int
	window      time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates a limiter allowing maxAttempts per window.
// Call Run to evict stale entries.
func NewMemoryLimiter(maxAttempts int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
		entries:     make(map[string]*rateLimitEntry),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, exists := l.entries[key]
	if !exists || now.Sub(entry.windowStart) >= l.window {
		l.entries[key] = &rateLimitEntry{count: 1, windowStart: now}
		return true, 0, nil
	}

	if entry.count < l.maxAttempts {
		entry.count++
		return true, 0, nil
	}
	return false, l.window - now.Sub(entry.windowStart), nil
}

// Run evicts expired entries every window until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.evict()
		}
	}
}

func (l *MemoryLimiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, entry := range l.entries {
		if now.Sub(entry.windowStart) >= l.window {
			delete(l.entries, key)
		}
	}
}

// =============================================================================
// Redis limiter
// =============================================================================

// RedisLimiter shares fixed windows across instances. Each key is an INCR
// counter whose TTL is set by the first request of the window.
type RedisLimiter struct {
	client      redis.Cmdable
	prefix      string
	maxAttempts int
	window      time.Duration
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client redis.Cmdable, prefix string, maxAttempts int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:      client,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := "ratelimit:" + l.prefix + ":" + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, l.window)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", l.prefix, err)
	}

	if incr.Val() <= int64(l.maxAttempts) {
		return true, 0, nil
	}
	retry := ttl.Val()
	if retry <= 0 {
		retry = l.window
	}
	return false, retry, nil
}

// =============================================================================
// Rate Limit Middleware
// =============================================================================

// RateLimitMiddleware applies a Limiter to requests. Signed-in users are
// keyed by id, everyone else by client IP.
type RateLimitMiddleware struct {
	name       string
	limiter    Limiter
	trustProxy bool
	logger     *slog.Logger
}

// NewRateLimitMiddleware creates a new rate limit middleware. name labels
// the rejection metric and log lines. trustProxy enables the proxy headers
// when keying anonymous clients.
func NewRateLimitMiddleware(name string, limiter Limiter, trustProxy bool, logger *slog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		name:       name,
		limiter:    limiter,
		trustProxy: trustProxy,
		logger:     logger,
	}
}

// Limit returns middleware that rate limits requests. When the limiter
// backend fails the request is let through.
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rateLimitKey(r, m.trustProxy)

		allowed, retryAfter, err := m.limiter.Allow(r.Context(), key)
		if err != nil {
			m.logger.Error("rate limiter unavailable", "limiter", m.name, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			metrics.RateLimited(m.name)
			m.logger.Warn("rate limit exceeded",
				"limiter", m.name,
				"key", key,
				"path", r.URL.Path,
				"method", r.Method,
			)

			secs := int(retryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			handler.ErrorResponse(w, r, m.logger, domain.RateLimit("middleware.RateLimit"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func rateLimitKey(r *http.Request, trustProxy bool) string {
	if id := auth.UserID(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + getClientIP(r, trustProxy)
}

// getClientIP returns the peer address. With trustProxy it prefers the
// headers a reverse proxy writes: X-Real-IP, then the last X-Forwarded-For
// hop, which is the one the proxy appended.
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
			hops := strings.Split(xff[len(xff)-1], ",")
			if ip := strings.TrimSpace(hops[len(hops)-1]); ip != "" {
				return ip
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
