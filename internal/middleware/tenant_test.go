package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantMissingHeader(t *testing.T) {
	handler := Tenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a tenant")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/evaluate/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "x-tenant-id")
}

func TestTenantRejectsNonUUID(t *testing.T) {
	handler := Tenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run with an invalid tenant")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/evaluate/x", nil)
	req.Header.Set("x-tenant-id", "not-a-uuid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTenantInjectsContext(t *testing.T) {
	tenant := uuid.New().String()

	var seen string
	handler := Tenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := TenantID(r.Context())
		require.NoError(t, err)
		seen = id
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/evaluate/x", nil)
	req.Header.Set("x-tenant-id", tenant)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tenant, seen)
}

func TestTenantIDWithoutTenant(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := TenantID(req.Context())
	assert.ErrorIs(t, err, ErrNoTenant)
}
