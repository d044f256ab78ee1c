package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/auth"
	"github.com/neighborwatch/incident-server/internal/models"
)

var secret = []byte("test-secret")

type fakeProfiles map[uuid.UUID]models.Profile

func (f fakeProfiles) Authenticate(_ context.Context, id uuid.UUID) (models.Profile, error) {
	p, ok := f[id]
	if !ok {
		return models.Profile{}, apperr.New(apperr.KindUnauthorized, "unknown user")
	}
	return p, nil
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.ProfileFrom(r.Context())
	_, _ = w.Write([]byte(p.Username))
}

func bearer(t *testing.T, id uuid.UUID, ttl time.Duration) string {
	t.Helper()
	token, err := auth.IssueToken(secret, id, "", ttl)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRequireAuth(t *testing.T) {
	active := models.Profile{ID: uuid.New(), Username: "rosa", Role: models.RoleResident, IsActive: true}
	inactive := models.Profile{ID: uuid.New(), Username: "nate", Role: models.RoleResident}
	profiles := fakeProfiles{active.ID: active, inactive.ID: inactive}
	h := RequireAuth(secret, profiles, zap.NewNop().Sugar())(http.HandlerFunc(okHandler))

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing header", "", http.StatusUnauthorized, "unauthorized"},
		{"not bearer", "Basic abc", http.StatusUnauthorized, "unauthorized"},
		{"garbage token", "Bearer nope", http.StatusUnauthorized, "unauthorized"},
		{"expired", bearer(t, active.ID, -time.Minute), http.StatusUnauthorized, "unauthorized"},
		{"unknown user", bearer(t, uuid.New(), time.Hour), http.StatusUnauthorized, "unauthorized"},
		{"deactivated", bearer(t, inactive.ID, time.Hour), http.StatusForbidden, "forbidden"},
		{"valid", bearer(t, active.ID, time.Hour), http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.code == "" {
				assert.Equal(t, "rosa", rec.Body.String())
				return
			}
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestClientInfo(t *testing.T) {
	var got auth.Client
	h := ClientInfo()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.ClientFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:5555"
	req.Header.Set("User-Agent", "neighborhood-app/1.0")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "198.51.100.4", got.IP)
	assert.Equal(t, "neighborhood-app/1.0", got.UserAgent)
}

func TestSecureHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecureHeaders()(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLimiter(client, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "ip:5.6.7.8")
	require.NoError(t, err)
	assert.True(t, ok, "keys are counted separately")

	assert.Equal(t, time.Minute, mr.TTL("ratelimit:ip:1.2.3.4"))
	mr.FastForward(time.Minute + time.Second)
	ok, err = l.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok, "window expired")
}

// failExpireOnce rejects the first command batch that carries an EXPIRE
type failExpireOnce struct {
	failed atomic.Bool
}

func (h *failExpireOnce) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *failExpireOnce) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (h *failExpireOnce) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			if cmd.Name() == "expire" && h.failed.CompareAndSwap(false, true) {
				return errors.New("connection reset")
			}
		}
		return next(ctx, cmds)
	}
}

func TestRedisLimiterRecoversAfterExpireFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	client.AddHook(&failExpireOnce{})

	l := NewRedisLimiter(client, 2, time.Minute)
	ctx := context.Background()

	_, err := l.Allow(ctx, "ip:1.2.3.4")
	require.Error(t, err)

	ok, err := l.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:ip:1.2.3.4"))

	ok, err = l.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Minute + time.Second)
	ok, err = l.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok, "window expired")
}

func TestRedisLimiterHealsCounterWithoutTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	// A counter whose expiry was lost would otherwise block the caller forever
	require.NoError(t, mr.Set("ratelimit:user:stuck", "5"))
	l := NewRedisLimiter(client, 2, time.Minute)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "user:stuck")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:user:stuck"))

	// NX keeps the running window instead of extending it on every hit
	mr.FastForward(30 * time.Second)
	_, err = l.Allow(ctx, "user:stuck")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, mr.TTL("ratelimit:user:stuck"))

	mr.FastForward(31 * time.Second)
	ok, err = l.Allow(ctx, "user:stuck")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewMemoryLimiter(ctx, 1, time.Minute)

	ok, _ := l.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "a")
	assert.False(t, ok)
	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := ClientInfo()(RateLimit(NewMemoryLimiter(ctx, 1, time.Minute), time.Minute, zap.NewNop().Sugar())(http.HandlerFunc(okHandler)))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	assert.Equal(t, http.StatusOK, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	open := RateLimit(brokenLimiter{}, time.Minute, zap.NewNop().Sugar())(http.HandlerFunc(okHandler))
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStructuredLoggerKeepsStatus(t *testing.T) {
	h := StructuredLogger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
