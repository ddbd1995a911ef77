package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// fakeClock returns a Limiter whose time is controlled by the returned
// pointer.
func fakeClock(cfg RateLimitConfig, start time.Time) (*Limiter, *time.Time) {
	now := start
	l := NewLimiter(cfg)
	l.now = func() time.Time { return now }
	return l, &now
}

func serve(h http.Handler, remoteAddr string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestLimiter_SlidingWindow(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l, now := fakeClock(RateLimitConfig{Max: 4, Window: time.Minute}, start)

	for i := range 4 {
		d := l.Allow("u1")
		require.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 3-i, d.Remaining)
	}
	assert.False(t, l.Allow("u1").Allowed)
	assert.True(t, l.Allow("u2").Allowed, "keys are independent")

	// Halfway through the next window half of the previous count still
	// applies: 4*0.5 = 2, so two more requests fit.
	*now = start.Add(90 * time.Second)
	assert.True(t, l.Allow("u1").Allowed)
	assert.True(t, l.Allow("u1").Allowed)
	assert.False(t, l.Allow("u1").Allowed)

	// After two idle windows the history is gone.
	*now = start.Add(5 * time.Minute)
	d := l.Allow("u1")
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
}

func TestLimiter_Evict(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l, now := fakeClock(RateLimitConfig{Max: 1, Window: time.Second}, start)

	l.Allow("a")
	l.Allow("b")
	require.Equal(t, 2, l.size())

	*now = start.Add(3 * time.Second)
	l.evict()
	assert.Zero(t, l.size())
}

func TestLimiter_RunStopsWithContext(t *testing.T) {
	l := NewLimiter(RateLimitConfig{Max: 1, Window: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRateLimit_Middleware(t *testing.T) {
	handler := RateLimit(NewLimiter(RateLimitConfig{Max: 2, Window: time.Minute}), nil)(okHandler())

	for range 2 {
		w := serve(handler, "10.0.0.1:9999", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := serve(handler, "10.0.0.1:1111", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, w.Body.String())

	w = serve(handler, "10.0.0.2:1111", nil)
	assert.Equal(t, http.StatusOK, w.Code, "other clients are not limited")
}

func TestRateLimit_CustomKey(t *testing.T) {
	byUser := func(r *http.Request) string { return r.Header.Get("X-User-ID") }
	handler := RateLimit(NewLimiter(RateLimitConfig{Max: 1, Window: time.Minute}), byUser)(okHandler())

	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.1:1", map[string]string{"X-User-ID": "7"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "10.0.0.2:1", map[string]string{"X-User-ID": "7"}).Code)
	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.1:1", map[string]string{"X-User-ID": "8"}).Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{"remote addr", "192.168.1.1:4444", nil, "192.168.1.1"},
		{"forwarded list", "192.168.1.1:4444", map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}, "203.0.113.50"},
		{"real ip", "192.168.1.1:4444", map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{"no port", "pipe", nil, "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
