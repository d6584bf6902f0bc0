// Package ratelimit throttles the public poll and purchase endpoints with a
// Redis sliding window shared by every instance.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow trims entries older than the window, counts the rest and
// records the current request only while under the limit. Returns the new
// count, or -1 when the limit is already reached.
const slidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])
local member = ARGV[4]
local limit = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, windowMs)
  return count + 1
end
return -1
`

type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	log    *slog.Logger
	now    func() time.Time
}

// New returns a limiter allowing limit requests per window and client. A nil
// client or non-positive limit yields a limiter that lets everything through.
func New(rdb *redis.Client, limit int, window time.Duration, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{rdb: rdb, limit: limit, window: window, log: log, now: time.Now}
}

func (l *Limiter) enabled() bool {
	return l != nil && l.rdb != nil && l.limit > 0 && l.window > 0
}

// Allow records one request under key. Redis errors are returned with allowed=true.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if !l.enabled() {
		return true, nil
	}
	now := l.now()
	nowMs := now.UnixMilli()
	windowMs := l.window.Milliseconds()
	member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())

	res, err := l.rdb.Eval(ctx, slidingWindow, []string{key},
		nowMs, nowMs-windowMs, windowMs, member, l.limit).Int()
	if err != nil {
		return true, fmt.Errorf("rate limit eval: %w", err)
	}
	return res >= 0, nil
}

// Middleware limits requests per client IP under the given scope.
func (l *Limiter) Middleware(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !l.enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := Key(scope, clientIP(r))
			ok, err := l.Allow(r.Context(), key)
			if err != nil {
				l.log.Warn("rate limiter unavailable, allowing request", "scope", scope, "err", err)
			}
			if !ok {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(l.window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"请求过于频繁，请稍后再试"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func Key(scope, client string) string {
	return "rate_limit:figureshop:" + scope + ":" + client
}

// clientIP expects chi's RealIP middleware to have normalised RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
