// Package middleware carries the HTTP cross-cutting concerns of the
// evaluation API: tenant scoping, per-tenant rate limiting, logging, CORS.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const tenantKey contextKey = "tenantID"

// ErrNoTenant reports that the request context carries no tenant.
var ErrNoTenant = errors.New("no tenant in context")

// WithTenant returns a context scoped to the given tenant.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantID extracts the tenant from the context.
func TenantID(ctx context.Context) (string, error) {
	if id, ok := ctx.Value(tenantKey).(string); ok && id != "" {
		return id, nil
	}
	return "", ErrNoTenant
}

// Tenant validates the x-tenant-id header and injects the tenant into the
// request context. A missing header or a value that is not a UUID is a 400;
// authenticating the caller is the auth layer's job, not ours.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("x-tenant-id")
		if tenantID == "" {
			writeJSONError(w, http.StatusBadRequest, "missing x-tenant-id header")
			return
		}
		if _, err := uuid.Parse(tenantID); err != nil {
			writeJSONError(w, http.StatusBadRequest, "x-tenant-id must be a UUID")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
	})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
