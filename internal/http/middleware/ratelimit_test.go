package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/hms-platform/internal/identity"
)

func TestRateLimiterRefills(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
	ok, wait := rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	ok, _ = rl.Allow("b")
	assert.True(t, ok, "keys have independent buckets")

	now = now.Add(1500 * time.Millisecond)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)

	assert.Equal(t, 2, rl.Evict(now.Add(time.Second)))
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1)
	handler := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		if user != "" {
			req = req.WithContext(identity.WithPrincipal(req.Context(), identity.Principal{UserID: user, Role: "patient"}))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("").Code)
	limited := send("")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send("u1").Code, "same IP, different user key")
	assert.Equal(t, http.StatusTooManyRequests, send("u1").Code)
}
