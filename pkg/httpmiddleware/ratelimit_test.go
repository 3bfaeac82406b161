package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstThenReject(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 3, Window: time.Minute})
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, _, ok := l.take("key", now)
		require.True(t, ok, "request %d within burst", i+1)
	}

	remaining, retryIn, ok := l.take("key", now)
	assert.False(t, ok)
	assert.Zero(t, remaining)
	assert.Greater(t, retryIn, time.Duration(0))
}

func TestTokenBucketRefills(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 60, Window: time.Minute})
	now := time.Now()

	for i := 0; i < 60; i++ {
		_, _, ok := l.take("key", now)
		require.True(t, ok)
	}
	_, _, ok := l.take("key", now)
	require.False(t, ok)

	// One token per second at this rate.
	_, _, ok = l.take("key", now.Add(time.Second))
	assert.True(t, ok)
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Now()

	_, _, ok := l.take("a", now)
	require.True(t, ok)
	_, _, ok = l.take("a", now)
	require.False(t, ok)

	_, _, ok = l.take("b", now)
	assert.True(t, ok)
}

func TestEvictDropsIdleBuckets(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Now()

	l.take("key", now)
	l.evict(now.Add(time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.buckets)
}

func TestRateLimitMiddleware(t *testing.T) {
	ctx := t.Context()
	mw := RateLimit(ctx, RateLimitConfig{
		Max:     2,
		Window:  time.Minute,
		KeyFunc: func(*http.Request) string { return "fixed" },
	})

	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, rec.Body.String())
}

func TestClientIPResolution(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "x-forwarded-for single",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7"},
			remote:  "10.0.0.1:1234",
			want:    "203.0.113.7",
		},
		{
			name:    "x-forwarded-for list uses first",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"},
			remote:  "10.0.0.1:1234",
			want:    "203.0.113.7",
		},
		{
			name:    "x-real-ip",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			remote:  "10.0.0.1:1234",
			want:    "203.0.113.9",
		},
		{
			name:   "remote addr fallback",
			remote: "10.0.0.1:1234",
			want:   "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}
