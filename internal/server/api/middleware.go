package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"feedbackhub/internal/server/auth"
)

const (
	ctxAccountID = "account_id"
	ctxRole      = "role"

	visitorTTL      = 10 * time.Minute
	visitorSweepGap = 5 * time.Minute
)

// visitor tracks the rate limit state for a single IP.
type visitor struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter is a per-IP token-bucket rate limiter.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     float64 // tokens per second
	burst    int     // max tokens
	now      func() time.Time
	done     chan struct{}
	stop     sync.Once
}

// NewRateLimiter creates a rate limiter with the given rate (requests/sec) and
// burst size. Call Close to stop its background sweep.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rps,
		burst:    burst,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(visitorSweepGap)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.sweep()
			case <-rl.done:
				return
			}
		}
	}()

	return rl
}

// Close stops the background sweep.
func (rl *RateLimiter) Close() {
	rl.stop.Do(func() { close(rl.done) })
}

// Middleware returns an echo middleware function that enforces rate limits.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !rl.allow(ip) {
				slog.Warn("rate limit exceeded", "ip", ip, "path", c.Path())
				return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests, please try again later")
			}
			return next(c)
		}
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[ip]
	if !ok {
		rl.visitors[ip] = &visitor{tokens: float64(rl.burst) - 1, lastCheck: now}
		return rl.burst > 0
	}

	v.tokens = min(v.tokens+now.Sub(v.lastCheck).Seconds()*rl.rate, float64(rl.burst))
	v.lastCheck = now

	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-visitorTTL)
	for ip, v := range rl.visitors {
		if v.lastCheck.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's id and role on the context.
func RequireAuth(authenticate func(token string) (*auth.Claims, error)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := authenticate(bearerToken(c.Request().Header.Get(echo.HeaderAuthorization)))
			if err != nil {
				return err
			}
			c.Set(ctxAccountID, claims.Subject)
			c.Set(ctxRole, claims.Role)
			return next(c)
		}
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func accountID(c echo.Context) string {
	id, _ := c.Get(ctxAccountID).(string)
	return id
}

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// Render now so the logged status matches what the client sees.
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"bytes_out", res.Size,
			}
			if id := accountID(c); id != "" {
				attrs = append(attrs, "account_id", id)
			}
			slog.Info("request", attrs...)

			return nil
		}
	}
}

// BodyLimit caps request bodies at limit bytes. An oversized body is
// reported with tooLarge instead of a bare 413.
func BodyLimit(limit int64, tooLarge func() error) echo.MiddlewareFunc {
	limited := middleware.BodyLimit(fmt.Sprintf("%dK", limit/1024))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := limited(next)
		return func(c echo.Context) error {
			err := h(c)
			if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
				return tooLarge()
			}
			return err
		}
	}
}
