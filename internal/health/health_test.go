package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticReporter struct {
	states []BreakerStatus
}

func (r *staticReporter) BreakerStates() []BreakerStatus { return r.states }

func TestHealthz(t *testing.T) {
	h := New(nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Status != "ok" {
		t.Errorf("status = %q, want ok", res.Status)
	}
}

func TestReadyz_AllPass(t *testing.T) {
	h := New(nil,
		Checker{Name: "a", Check: func(context.Context) error { return nil }},
		Checker{Name: "b", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Checks["a"] != "ok" || res.Checks["b"] != "ok" {
		t.Errorf("checks = %v", res.Checks)
	}
}

func TestReadyz_OneFails(t *testing.T) {
	h := New(nil,
		Checker{Name: "db", Check: func(context.Context) error { return errors.New("connection refused") }},
		Checker{Name: "ok", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var res result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Status != "fail" {
		t.Errorf("status = %q, want fail", res.Status)
	}
	if res.Checks["db"] == "ok" {
		t.Error("db check should report its failure")
	}
}

func TestBreakers(t *testing.T) {
	reporter := &staticReporter{states: []BreakerStatus{
		{Provider: "llm/openai", State: "closed"},
		{Provider: "llm/anthropic", State: "open", Failures: 5},
	}}
	h := New(reporter)
	rec := httptest.NewRecorder()
	h.Breakers(rec, httptest.NewRequest(http.MethodGet, "/breakers", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var states []BreakerStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &states); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("len(states) = %d, want 2", len(states))
	}
	if states[1].State != "open" || states[1].Failures != 5 {
		t.Errorf("states[1] = %+v", states[1])
	}
}

func TestBreakers_EmptyStatesIsArray(t *testing.T) {
	h := New(&staticReporter{})
	rec := httptest.NewRecorder()
	h.Breakers(rec, httptest.NewRequest(http.MethodGet, "/breakers", nil))

	if got := rec.Body.String(); got[0] != '[' {
		t.Errorf("empty breaker list should encode as a JSON array, got %s", got)
	}
}

func TestRegister_Routes(t *testing.T) {
	mux := http.NewServeMux()
	New(&staticReporter{}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz", "/breakers"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code == http.StatusNotFound {
			t.Errorf("%s not registered", path)
		}
	}
}

func TestRegister_NoBreakersWithoutReporter(t *testing.T) {
	mux := http.NewServeMux()
	New(nil).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/breakers", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when no reporter is wired", rec.Code)
	}
}
