package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/flagcore/backend/internal/metrics"
	"github.com/flagcore/backend/internal/middleware"
)

// Metrics handles the read-side aggregation queries.
type Metrics struct {
	reader *metrics.Reader
}

// NewMetrics creates the metrics handler set.
func NewMetrics(reader *metrics.Reader) *Metrics {
	return &Metrics{reader: reader}
}

// Register mounts the metrics routes on the router.
func (h *Metrics) Register(r *mux.Router) {
	r.HandleFunc("/metrics/flag", h.flag).Methods(http.MethodGet)
	r.HandleFunc("/metrics/tenant", h.tenant).Methods(http.MethodGet)
}

func (h *Metrics) flag(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.TenantID(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenant"})
		return
	}
	flagKey := r.URL.Query().Get("flagKey")
	if flagKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "flagKey is required"})
		return
	}
	from, to, ok := timeRange(w, r)
	if !ok {
		return
	}

	rows, err := h.reader.MetricsForFlag(r.Context(), tenantID, flagKey, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "metrics query failed"})
		return
	}
	if rows == nil {
		rows = []metrics.Row{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"buckets": rows})
}

func (h *Metrics) tenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.TenantID(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenant"})
		return
	}
	from, to, ok := timeRange(w, r)
	if !ok {
		return
	}

	summary, err := h.reader.TenantSummary(r.Context(), tenantID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "metrics query failed"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// timeRange parses from/to query parameters (RFC3339), defaulting to the
// last 24 hours.
func timeRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	to := now

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from must be RFC3339"})
			return time.Time{}, time.Time{}, false
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to must be RFC3339"})
			return time.Time{}, time.Time{}, false
		}
		to = parsed
	}
	return from, to, true
}
