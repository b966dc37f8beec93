package http

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/chowrank/chowrank/internal/config"
	"github.com/chowrank/chowrank/internal/metrics"
)

// RateLimiter enforces sliding-window quotas per client IP, backed by Redis
// sorted sets. The limiter is optional infrastructure: with no backend, or
// on any backend error, requests pass (fail-open) and the failure is logged.
type RateLimiter struct {
	rdb redis.Cmdable
	cfg config.RateLimitConfig
}

// NewRateLimiter constructs a limiter. A nil client disables enforcement.
func NewRateLimiter(rdb redis.Cmdable, cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{rdb: rdb, cfg: cfg}
}

func (rl *RateLimiter) preset(name string) config.RateLimitPreset {
	switch name {
	case "strict":
		return rl.cfg.Strict
	case "generous":
		return rl.cfg.Generous
	case "burst":
		return rl.cfg.Burst
	default:
		return rl.cfg.Standard
	}
}

// Middleware returns a mux middleware enforcing the named preset. Rate-limit
// headers are emitted on every response, allowed or rejected.
func (rl *RateLimiter) Middleware(presetName string) mux.MiddlewareFunc {
	preset := rl.preset(presetName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, reset := rl.check(r, presetName, preset)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(preset.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !allowed {
				metrics.RateLimitRejectionsTotal.WithLabelValues(presetName).Inc()
				retryAfter := int(time.Until(reset).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded", CodeRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// check counts the client's requests in the sliding window. Returns allowed,
// remaining quota, and when the window resets.
func (rl *RateLimiter) check(r *http.Request, presetName string, preset config.RateLimitPreset) (bool, int, time.Time) {
	now := time.Now()
	window := preset.Window()
	reset := now.Add(window)

	if rl.rdb == nil {
		return true, preset.Limit, reset
	}

	key := fmt.Sprintf("rl:%s:%s", presetName, clientIP(r))
	cutoff := now.Add(-window)

	pipe := rl.rdb.TxPipeline()
	pipe.ZRemRangeByScore(r.Context(), key, "0", strconv.FormatInt(cutoff.UnixNano(), 10))
	pipe.ZAdd(r.Context(), key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.New().String()[:8],
	})
	count := pipe.ZCard(r.Context(), key)
	pipe.Expire(r.Context(), key, window)

	if _, err := pipe.Exec(r.Context()); err != nil {
		log.Warn().Err(err).Msg("rate limit backend unavailable, failing open")
		return true, preset.Limit, reset
	}

	used := int(count.Val())
	remaining := preset.Limit - used
	if remaining < 0 {
		remaining = 0
	}

	return used <= preset.Limit, remaining, reset
}

// clientIP resolves the caller identity: X-Forwarded-For's first hop, then
// X-Real-IP, then the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
