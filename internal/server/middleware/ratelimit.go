package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// RateLimit caps each client at limit requests per window through the shared
// limiter. When the limiter itself fails the request is let through.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger) Middleware {
	retryAfter := strconv.Itoa(max(1, int(window/time.Second)))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), "api:"+clientIP(r), limit, window)
			if err != nil {
				logger.Debug("rate limiter unavailable", slog.String("error", err.Error()))
				allowed = true
			}
			if !allowed {
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the first hop of X-Forwarded-For when it parses as an address,
// then X-Real-IP, then the peer address.
func clientIP(r *http.Request) string {
	for _, raw := range []string{
		strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0],
		r.Header.Get("X-Real-IP"),
	} {
		if addr, err := netip.ParseAddr(strings.TrimSpace(raw)); err == nil {
			return addr.String()
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
