package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// ErrAllProvidersExhausted is returned when every provider in a [Chain] is
// either skipped (open breaker) or fails. Router callers must distinguish this
// from a hard failure: the per-capability routers pair it with a static
// degraded response so the call can continue.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// ErrNoProviders is returned by routers constructed over an empty chain.
var ErrNoProviders = errors.New("no providers configured")

// ProviderError wraps a failure reported by (or on behalf of) a single
// provider attempt. Permanent marks auth/validation failures that will not go
// away on retry; the chain continues to the next provider either way, and
// both kinds count against the provider's breaker.
type ProviderError struct {
	// Provider is the name of the provider that failed.
	Provider string

	// Permanent is true for auth/validation failures, false for
	// network/timeout failures.
	Permanent bool

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("provider %s: %s failure: %v", e.Provider, kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderSpec is the static, ordered configuration of one provider in a
// chain. Immutable after configuration load.
type ProviderSpec struct {
	// Name identifies the provider in logs, metrics, and breaker state.
	Name string

	// Timeout bounds a single attempt against this provider.
	Timeout time.Duration

	// Priority orders the chain; lower values are tried first.
	Priority int
}

// chainEntry pairs a provider value with its spec and dedicated breaker.
type chainEntry[T any] struct {
	spec    ProviderSpec
	value   T
	breaker *CircuitBreaker
}

// Chain is a priority-ordered list of interchangeable providers for one
// capability. Each entry carries its own [CircuitBreaker]; breaker state is
// shared across every call routed through the same chain instance.
//
// Entries are registered at configuration time via [Chain.Add]; after that
// the chain is read-only and safe for concurrent use.
type Chain[T any] struct {
	capability string
	entries    []chainEntry[T]
	breakerCfg BreakerConfig
}

// NewChain creates an empty chain for the named capability. breakerCfg
// supplies the thresholds applied to every per-provider breaker; its Name
// field is overwritten per entry.
func NewChain[T any](capability string, breakerCfg BreakerConfig) *Chain[T] {
	return &Chain[T]{capability: capability, breakerCfg: breakerCfg}
}

// Add registers a provider with its spec. Entries are kept sorted by
// ascending priority; registration order breaks ties.
func (c *Chain[T]) Add(spec ProviderSpec, value T) {
	cbCfg := c.breakerCfg
	cbCfg.Name = c.capability + "/" + spec.Name
	c.entries = append(c.entries, chainEntry[T]{
		spec:    spec,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
	sort.SliceStable(c.entries, func(i, j int) bool {
		return c.entries[i].spec.Priority < c.entries[j].spec.Priority
	})
}

// Len returns the number of registered providers.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Capability returns the capability name given at construction.
func (c *Chain[T]) Capability() string { return c.capability }

// Breaker returns the breaker guarding the named provider, or nil if the
// provider is not registered. Intended for health reporting and tests.
func (c *Chain[T]) Breaker(name string) *CircuitBreaker {
	for i := range c.entries {
		if c.entries[i].spec.Name == name {
			return c.entries[i].breaker
		}
	}
	return nil
}

// Names returns the provider names in priority order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.entries))
	for i := range c.entries {
		names[i] = c.entries[i].spec.Name
	}
	return names
}

// Attempt tries fn against each provider in priority order until one
// succeeds. Providers with open breakers are skipped. Each attempt runs under
// a context bounded by the provider's configured timeout; fn must respect
// cancellation. Success and failure are recorded against the attempted
// provider's breaker.
//
// Returns the first successful result together with the serving provider's
// name. If the chain is exhausted, returns [ErrAllProvidersExhausted] wrapped
// with the last failure. This is a package-level function because Go does not
// support method-level type parameters.
func Attempt[T any, R any](ctx context.Context, c *Chain[T], fn func(ctx context.Context, p T) (R, error)) (result R, provider string, err error) {
	var (
		lastErr error
		zero    R
	)

	if len(c.entries) == 0 {
		return zero, "", fmt.Errorf("%s: %w", c.capability, ErrNoProviders)
	}

	for i := range c.entries {
		entry := &c.entries[i]

		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		if entry.breaker.IsOpen() {
			slog.Debug("skipping provider (circuit open)",
				"capability", c.capability, "provider", entry.spec.Name)
			continue
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if entry.spec.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, entry.spec.Timeout)
		}
		result, attemptErr := fn(attemptCtx, entry.value)
		cancel()

		if attemptErr == nil {
			entry.breaker.RecordSuccess()
			return result, entry.spec.Name, nil
		}

		entry.breaker.RecordFailure()
		lastErr = &ProviderError{
			Provider:  entry.spec.Name,
			Permanent: isPermanent(attemptErr),
			Err:       attemptErr,
		}
		slog.Warn("provider failed, trying next",
			"capability", c.capability,
			"provider", entry.spec.Name,
			"error", attemptErr)
	}

	if lastErr == nil {
		// Every provider was skipped due to an open breaker.
		return zero, "", fmt.Errorf("%s: %w: all circuits open", c.capability, ErrAllProvidersExhausted)
	}
	return zero, "", fmt.Errorf("%s: %w: %v", c.capability, ErrAllProvidersExhausted, lastErr)
}

// isPermanent reports whether err was already classified as a permanent
// provider failure. Unclassified errors default to transient.
func isPermanent(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Permanent
	}
	return false
}
