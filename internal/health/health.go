// Package health provides HTTP health, readiness, and breaker-state
// endpoints.
//
//   - /healthz  — liveness probe; always returns 200 OK.
//   - /readyz   — readiness probe; 200 only when all registered [Checker]
//     functions pass.
//   - /breakers — current circuit-breaker state per provider, for operators
//     deciding whether a degraded call path is a provider outage or ours.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail").
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. Check should return nil when the
// dependency is healthy and must respect context cancellation.
type Checker struct {
	// Name is a short label for this check ("database", "providers"). It
	// appears as a key in the JSON response.
	Name string

	// Check probes the dependency.
	Check func(ctx context.Context) error
}

// BreakerStatus is one provider's circuit state in the /breakers response.
type BreakerStatus struct {
	Provider string `json:"provider"`
	State    string `json:"state"`
	Failures int    `json:"consecutive_failures"`
}

// BreakerReporter supplies the current breaker states. Implemented by the
// provider registry.
type BreakerReporter interface {
	BreakerStates() []BreakerStatus
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. Safe for concurrent use; the checker
// list is fixed at construction time.
type Handler struct {
	checkers []Checker
	breakers BreakerReporter
}

// New creates a [Handler] evaluating the given checkers on each /readyz
// request, sequentially in the order provided. reporter may be nil, which
// disables /breakers.
func New(reporter BreakerReporter, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, breakers: reporter}
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker runs under a [checkTimeout] deadline derived
// from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Breakers reports per-provider circuit state.
func (h *Handler) Breakers(w http.ResponseWriter, _ *http.Request) {
	if h.breakers == nil {
		writeJSON(w, http.StatusNotFound, result{Status: "fail"})
		return
	}
	states := h.breakers.BreakerStates()
	if states == nil {
		states = []BreakerStatus{}
	}
	writeJSON(w, http.StatusOK, states)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if h.breakers != nil {
		mux.HandleFunc("GET /breakers", h.Breakers)
	}
}

// writeJSON encodes v as JSON with the given status code. On encoding failure
// it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
