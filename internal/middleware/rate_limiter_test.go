package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAdmitsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, nil)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		adm := rl.Check("t1")
		assert.True(t, adm.Allowed, "request %d within the limit must be admitted", i+1)
		assert.Equal(t, 3-(i+1), adm.Remaining)
	}

	adm := rl.Check("t1")
	assert.False(t, adm.Allowed)
	assert.Zero(t, adm.Remaining)
	assert.Equal(t, 3, adm.Current, "rejected requests do not consume budget")
}

func TestCheckWindowReset(t *testing.T) {
	rl := NewRateLimiter(1, 30*time.Millisecond, nil)
	defer rl.Close()

	assert.True(t, rl.Check("t1").Allowed)
	assert.False(t, rl.Check("t1").Allowed)

	time.Sleep(40 * time.Millisecond)
	assert.True(t, rl.Check("t1").Allowed, "a new window restores the budget")
}

func TestCheckIsolatesTenants(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, nil)
	defer rl.Close()

	assert.True(t, rl.Check("t1").Allowed)
	assert.False(t, rl.Check("t1").Allowed)
	assert.True(t, rl.Check("t2").Allowed, "one tenant's exhaustion must not affect another")
}

func TestMiddlewareSetsHeadersAndRejects(t *testing.T) {
	var rejections int
	rl := NewRateLimiter(2, time.Minute, func() { rejections++ })
	defer rl.Close()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := Tenant(rl.Middleware(next))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/evaluate/x", nil)
		req.Header.Set("x-tenant-id", "8c5f3c1e-4b6f-4a89-9a52-0ee0a54c9da1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := do()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	do()
	rec = do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, 1, rejections)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, http.StatusTooManyRequests, body["status"])
	assert.EqualValues(t, 2, body["limit"])
	assert.EqualValues(t, 2, body["current"])
	assert.Contains(t, body, "reset_at")
}

func TestMiddlewarePassesThroughWithoutTenant(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, nil)
	defer rl.Close()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// No tenant in context: the limiter must not count or reject.
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}
