package main

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/nodeflow/api/handlers"
	"github.com/BaSui01/nodeflow/types"
)

const (
	visitorIdleTTL   = 3 * time.Minute
	visitorSweepTick = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter 为每个客户端 IP 维护一个令牌桶
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		limit:    rate.Limit(rps),
		burst:    max(burst, 1),
		visitors: make(map[string]*visitor),
	}
}

// reserve takes a token for ip and reports how long the caller would have
// to wait when none is available.
func (l *clientLimiter) reserve(ip string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	res := v.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// sweep drops visitors idle for longer than ttl.
func (l *clientLimiter) sweep(now time.Time, ttl time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := 0
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > ttl {
			delete(l.visitors, ip)
			dropped++
		}
	}
	return dropped
}

func (l *clientLimiter) janitor(ctx context.Context) {
	ticker := time.NewTicker(visitorSweepTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.sweep(now, visitorIdleTTL)
		}
	}
}

// RateLimiter 基于客户端 IP 的令牌桶限流，rps <= 0 时不限流。
// 被拒绝的请求返回 429 并带 Retry-After；清理协程随 ctx 退出。
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return passthrough
	}
	limiter := newClientLimiter(rps, burst)
	go limiter.janitor(ctx)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			ok, wait := limiter.reserve(ip, time.Now())
			if !ok {
				logger.Debug("rate limit exceeded", zap.String("ip", ip), zap.Duration("retry_after", wait))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				handlers.WriteError(w, types.NewError(types.ErrRateLimited, "too many requests"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// retryAfterSeconds rounds up to whole seconds, at least 1.
func retryAfterSeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 1)
}
