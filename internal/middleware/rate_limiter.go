package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter enforces fixed-window admission control per tenant on the
// evaluation endpoints. Windows reset naturally: each counter carries its
// window start and expired windows are swept by a background cleanup.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	width   time.Duration
	onHit   func()
	stop    chan struct{}
	once    sync.Once
}

type window struct {
	count int
	start time.Time
}

// NewRateLimiter creates a limiter. limit <= 0 defaults to 100 requests per
// window; width <= 0 defaults to 1 second. onReject is an optional
// instrumentation hook.
func NewRateLimiter(limit int, width time.Duration, onReject func()) *RateLimiter {
	if limit <= 0 {
		limit = 100
	}
	if width <= 0 {
		width = time.Second
	}
	rl := &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		width:   width,
		onHit:   onReject,
		stop:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Admission is the outcome of one rate-limit check.
type Admission struct {
	Allowed   bool
	Limit     int
	Current   int
	Remaining int
	ResetAt   time.Time
}

// Check counts a request against the tenant's current window and decides
// admission. Increment-and-check is atomic under the limiter lock, so no
// window ever admits more than limit requests.
func (rl *RateLimiter) Check(tenantID string) Admission {
	now := time.Now()

	rl.mu.Lock()
	w, ok := rl.windows[tenantID]
	if !ok || now.Sub(w.start) >= rl.width {
		w = &window{start: now}
		rl.windows[tenantID] = w
	}

	admitted := w.count < rl.limit
	if admitted {
		w.count++
	}
	current := w.count
	resetAt := w.start.Add(rl.width)
	rl.mu.Unlock()

	remaining := rl.limit - current
	if remaining < 0 {
		remaining = 0
	}
	return Admission{
		Allowed:   admitted,
		Limit:     rl.limit,
		Current:   current,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Middleware applies the limiter to evaluation requests. Requests without a
// tenant pass through; rejecting unauthenticated calls is the auth layer's
// responsibility. Budget headers are set on both admit and reject.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := TenantID(r.Context())
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		adm := rl.Check(tenantID)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(adm.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(adm.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(adm.ResetAt.Unix(), 10))

		if !adm.Allowed {
			if rl.onHit != nil {
				rl.onHit()
			}
			slog.Warn("rate limit exceeded", "tenant_id", tenantID, "current", adm.Current, "limit", adm.Limit)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status":   http.StatusTooManyRequests,
				"limit":    adm.Limit,
				"current":  adm.Current,
				"reset_at": adm.ResetAt.Unix(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(10 * rl.width)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			rl.mu.Lock()
			for key, w := range rl.windows {
				if now.Sub(w.start) >= 2*rl.width {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}
