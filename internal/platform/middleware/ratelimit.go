package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig is a token bucket: RequestsPerSecond refill with room for
// BurstSize requests at once.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 50, BurstSize: 100}
}

// buckets hands out one limiter per caller key.
type buckets struct {
	mu    sync.Mutex
	cfg   RateLimitConfig
	byKey map[string]*rate.Limiter
}

func (b *buckets) get(key string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	lim, ok := b.byKey[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(b.cfg.RequestsPerSecond), b.cfg.BurstSize)
		b.byKey[key] = lim
	}
	return lim
}

// maxRetryAfter caps the hint; a limiter that would make the caller wait
// longer than this never refills in practice.
const maxRetryAfter = 24 * time.Hour

// retryAfter is the number of whole seconds, at least one, before lim will
// admit another request. A limiter that never refills reports 1.
func retryAfter(lim *rate.Limiter) int {
	if lim.Limit() <= 0 {
		return 1
	}
	r := lim.Reserve()
	defer r.Cancel()
	wait := r.Delay()
	if !r.OK() || wait >= maxRetryAfter {
		return 1
	}
	return max(1, int(math.Ceil(wait.Seconds())))
}

// callerKey groups requests by authenticated user, or by client address for
// anonymous traffic.
func callerKey(c echo.Context) string {
	if uid, ok := c.Get("user_id").(int64); ok {
		return "user:" + strconv.FormatInt(uid, 10)
	}
	return "ip:" + c.RealIP()
}

// RateLimit rejects callers that exceed cfg with 429 and a Retry-After hint.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	b := &buckets{cfg: cfg, byKey: make(map[string]*rate.Limiter)}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lim := b.get(callerKey(c))
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			if lim.AllowN(time.Now(), 1) {
				h.Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Max(0, lim.Tokens()))))
				return next(c)
			}
			h.Set("X-RateLimit-Remaining", "0")
			h.Set("Retry-After", strconv.Itoa(retryAfter(lim)))
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
	}
}
