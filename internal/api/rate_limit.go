package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelforge/internal/ratelimit"
)

type RateLimiter interface {
	AllowRoute(ctx context.Context, subject, route string) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
		route := r.Method + " " + routeLabel(r.URL.Path)

		decision, err := s.rateLimiter.AllowRoute(r.Context(), subject, route)
		if err != nil {
			s.logger.Printf("rate limiter check failed for subject=%s route=%q err=%v", subject, route, err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// shouldRateLimit covers every request that can trigger a transform or
// enqueue work. Job status reads are free.
func shouldRateLimit(r *http.Request) bool {
	switch {
	case strings.HasPrefix(r.URL.Path, "/v1/transforms"):
		return true
	case strings.HasPrefix(r.URL.Path, "/v1/generate"):
		return r.Method != http.MethodGet
	default:
		return false
	}
}
