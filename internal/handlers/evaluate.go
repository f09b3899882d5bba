// Package handlers implements the evaluation and metrics HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/flagcore/backend/internal/evaluation"
	"github.com/flagcore/backend/internal/middleware"
	"github.com/flagcore/backend/internal/store"
)

// Evaluate handles the flag evaluation endpoints.
type Evaluate struct {
	orchestrator *evaluation.Orchestrator
}

// NewEvaluate creates the evaluation handler set.
func NewEvaluate(orchestrator *evaluation.Orchestrator) *Evaluate {
	return &Evaluate{orchestrator: orchestrator}
}

// Register mounts the evaluation routes on the router.
func (h *Evaluate) Register(r *mux.Router) {
	r.HandleFunc("/evaluate/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/evaluate/batch", h.batch).Methods(http.MethodPost)
	r.HandleFunc("/evaluate/{key}", h.single).Methods(http.MethodPost)
}

func (h *Evaluate) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// single evaluates one flag. The request body is the evaluation context.
func (h *Evaluate) single(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.TenantID(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenant"})
		return
	}
	key := mux.Vars(r)["key"]
	if !evaluation.KeyPattern.MatchString(key) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid flag key"})
		return
	}

	ec, ok := decodeContext(w, r)
	if !ok {
		return
	}

	result, err := h.orchestrator.Evaluate(r.Context(), tenantID, key, ec)
	if err != nil && errors.Is(err, store.ErrUnavailable) {
		writeJSON(w, http.StatusServiceUnavailable, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	Keys    []string           `json:"keys"`
	Context evaluation.Context `json:"context"`
}

// batch evaluates several flags concurrently against one context.
func (h *Evaluate) batch(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.TenantID(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenant"})
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if len(req.Keys) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "keys must not be empty"})
		return
	}
	if req.Context == nil {
		req.Context = evaluation.Context{}
	}

	resp := h.orchestrator.BatchEvaluate(r.Context(), tenantID, req.Keys, req.Context)
	writeJSON(w, http.StatusOK, resp)
}

func decodeContext(w http.ResponseWriter, r *http.Request) (evaluation.Context, bool) {
	ec := evaluation.Context{}
	if r.Body == nil || r.ContentLength == 0 {
		return ec, true
	}
	if err := json.NewDecoder(r.Body).Decode(&ec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed context"})
		return nil, false
	}
	return ec, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
