package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/auth"
)

// Limiter counts requests per key in fixed windows
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter shares request counters between server instances
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter creates a limiter allowing limit requests per window
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: "ratelimit:"}
}

// Allow increments the key's counter and reports whether it is within
// limit. The increment and the expiry run in one MULTI block, and EXPIRE NX
// is sent on every call so a counter left without a TTL gets one on its
// next hit.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", k, err)
	}
	return incr.Val() <= int64(l.limit), nil
}

// MemoryLimiter is a single-process fallback used when Redis is not
// configured
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*window
}

type window struct {
	count   int
	started time.Time
}

// NewMemoryLimiter creates a limiter and prunes stale counters until ctx
// is cancelled
func NewMemoryLimiter(ctx context.Context, limit int, per time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{limit: limit, window: per, clients: make(map[string]*window)}
	go l.cleanup(ctx)
	return l
}

func (l *MemoryLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			for key, c := range l.clients {
				if time.Since(c.started) > 2*l.window {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Allow counts a request for key
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	c, ok := l.clients[key]
	if !ok || now.Sub(c.started) > l.window {
		l.clients[key] = &window{count: 1, started: now}
		return l.limit >= 1, nil
	}
	c.count++
	return c.count <= l.limit, nil
}

// rateKey identifies the caller: the authenticated user when known,
// otherwise the client address
func rateKey(r *http.Request) string {
	if p, ok := auth.ProfileFrom(r.Context()); ok {
		return "user:" + p.ID.String()
	}
	return "ip:" + auth.ClientFrom(r.Context()).IP
}

// RateLimit rejects callers that exceed the limiter's budget. Limiter
// errors are logged and the request is let through.
func RateLimit(limiter Limiter, retryAfter time.Duration, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), rateKey(r))
			if err != nil {
				logger.Warnw("Rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
