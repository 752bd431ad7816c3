// Package ratelimit implements a fixed-window request limiter whose counters
// live in Redis, so every process instance shares the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fawtara/fawtara/internal/platform/httpx"
)

const keyPrefix = "ratelimit"

// Result describes the outcome of a single Allow call.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts hits per key inside fixed windows.
type Limiter struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a limiter. A nil client disables limiting.
func New(client *redis.Client, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{client: client, logger: logger, now: time.Now}
}

// Allow registers a hit for key and reports whether it fits in limit per window.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if l == nil || l.client == nil || limit <= 0 {
		return Result{Allowed: true, Remaining: math.MaxInt32}, nil
	}
	now := l.now()
	bucket := now.UnixNano() / int64(window)
	redisKey := fmt.Sprintf("%s:%s:%d", keyPrefix, key, bucket)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	count := int(incr.Val())
	windowEnd := time.Unix(0, (bucket+1)*int64(window))
	res := Result{Allowed: count <= limit, Remaining: limit - count}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = windowEnd.Sub(now)
	}
	return res, nil
}

// Middleware limits requests per client IP under the given name. Redis errors
// fail open so an unavailable cache never blocks invoicing.
func (l *Limiter) Middleware(name string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := name + ":" + clientIP(r)
			res, err := l.Allow(r.Context(), key, limit, window)
			if err != nil {
				l.logger.Warn("rate limit check failed", slog.String("limiter", name), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				seconds := int(math.Ceil(res.RetryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
