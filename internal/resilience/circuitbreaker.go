// Package resilience provides the circuit breaker and provider routing
// primitives that turn unreliable speech/LLM/synthesis backends into a single
// dependable capability.
//
// The central types are [CircuitBreaker], a classic three-state breaker
// (closed → open → half-open) tracked per provider, and [Chain], a
// priority-ordered provider list that skips open breakers, bounds each attempt
// with a timeout, and falls back down the chain. Per-capability routers
// (STTRouter, LLMRouter, TTSRouter) wrap Chain with capability-specific policy
// such as the transcript confidence gate and static degraded responses.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// in the open state and the cooldown has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state — all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive
	// failures. Attempts are rejected until the cooldown elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the cooldown. Calls are
	// allowed through; enough consecutive successes close the breaker, a
	// single failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [CircuitBreaker].
type BreakerConfig struct {
	// Name is a human-readable label used in log messages, typically the
	// provider name the breaker guards.
	Name string

	// FailureThreshold is the number of consecutive failures in the closed
	// state before the breaker opens. Default: 5.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	Cooldown time.Duration

	// SuccessThreshold is the number of consecutive successful probes in the
	// half-open state required to close the breaker. Default: 3.
	SuccessThreshold int
}

// CircuitBreaker implements the three-state circuit breaker pattern.
// One instance guards one (provider, capability) pair and is shared by every
// call routed through that provider. It is safe for concurrent use.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration
	successThreshold int

	mu                 sync.Mutex
	state              State
	consecutiveFail    int
	consecutiveSuccess int
	openedAt           time.Time
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied
// configuration. Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		successThreshold: cfg.SuccessThreshold,
		state:            StateClosed,
	}
}

// IsOpen reports whether attempts against the guarded provider should be
// skipped. In the open state it returns true until the cooldown elapses, at
// which point the breaker transitions to half-open and IsOpen returns false
// so the next attempt goes through as a probe.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return false
	}
	if time.Since(cb.openedAt) < cb.cooldown {
		return true
	}

	cb.state = StateHalfOpen
	cb.consecutiveSuccess = 0
	slog.Info("circuit breaker transitioning to half-open", "name", cb.name)
	return false
}

// RecordSuccess registers a successful attempt. In the closed state it resets
// the failure counter; in the half-open state it counts towards the success
// threshold and closes the breaker once reached.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFail = 0

	case StateHalfOpen:
		cb.consecutiveSuccess++
		if cb.consecutiveSuccess >= cb.successThreshold {
			cb.state = StateClosed
			cb.consecutiveFail = 0
			cb.consecutiveSuccess = 0
			slog.Info("circuit breaker closed after successful probes",
				"name", cb.name)
		}
	}
}

// RecordFailure registers a failed attempt. In the closed state it increments
// the consecutive failure counter and opens the breaker at the threshold; in
// the half-open state a single failure immediately re-opens with a fresh
// cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.failureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
			slog.Warn("circuit breaker opened",
				"name", cb.name,
				"consecutive_failures", cb.consecutiveFail)
		}

	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.consecutiveSuccess = 0
		slog.Warn("circuit breaker re-opened from half-open", "name", cb.name)
	}
}

// Execute runs fn if the breaker allows it, recording the outcome. In the
// open state it returns [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if cb.IsOpen() {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// State returns the current [State] of the breaker. If the breaker is open
// and the cooldown has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [CircuitBreaker.IsOpen] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Counters returns the current consecutive failure and success counts.
// Intended for health reporting and tests.
func (cb *CircuitBreaker) Counters() (failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFail, cb.consecutiveSuccess
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.consecutiveSuccess = 0
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
