package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestChain(names ...string) *Chain[string] {
	c := NewChain[string]("test", BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	for i, name := range names {
		c.Add(ProviderSpec{Name: name, Priority: i}, name)
	}
	return c
}

func TestChain_AddSortsByPriority(t *testing.T) {
	c := NewChain[string]("test", BreakerConfig{})
	c.Add(ProviderSpec{Name: "tertiary", Priority: 2}, "c")
	c.Add(ProviderSpec{Name: "primary", Priority: 0}, "a")
	c.Add(ProviderSpec{Name: "secondary", Priority: 1}, "b")

	got := c.Names()
	want := []string{"primary", "secondary", "tertiary"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
}

func TestAttempt_FirstProviderSucceeds(t *testing.T) {
	c := newTestChain("primary", "secondary")

	result, provider, err := Attempt(context.Background(), c, func(_ context.Context, p string) (string, error) {
		return "result from " + p, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "primary" {
		t.Errorf("provider = %q, want primary", provider)
	}
	if result != "result from primary" {
		t.Errorf("result = %q", result)
	}
}

func TestAttempt_FailsOverToNext(t *testing.T) {
	c := newTestChain("primary", "secondary")

	result, provider, err := Attempt(context.Background(), c, func(_ context.Context, p string) (string, error) {
		if p == "primary" {
			return "", errTest
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "secondary" {
		t.Errorf("provider = %q, want secondary", provider)
	}
	if result != "ok" {
		t.Errorf("result = %q, want ok", result)
	}

	// The primary failure must count against its breaker.
	failures, _ := c.Breaker("primary").Counters()
	if failures != 1 {
		t.Errorf("primary failures = %d, want 1", failures)
	}
}

func TestAttempt_AllFail(t *testing.T) {
	c := newTestChain("primary", "secondary")

	_, _, err := Attempt(context.Background(), c, func(_ context.Context, _ string) (string, error) {
		return "", errTest
	})
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("err = %v, want ErrAllProvidersExhausted", err)
	}
}

func TestAttempt_EmptyChain(t *testing.T) {
	c := NewChain[string]("test", BreakerConfig{})
	_, _, err := Attempt(context.Background(), c, func(_ context.Context, _ string) (string, error) {
		return "", nil
	})
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("err = %v, want ErrNoProviders", err)
	}
}

func TestAttempt_SkipsOpenBreakers(t *testing.T) {
	c := newTestChain("primary", "secondary")

	// Trip the primary breaker (threshold 2).
	c.Breaker("primary").RecordFailure()
	c.Breaker("primary").RecordFailure()

	var attempted []string
	_, provider, err := Attempt(context.Background(), c, func(_ context.Context, p string) (string, error) {
		attempted = append(attempted, p)
		return p, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "secondary" {
		t.Errorf("provider = %q, want secondary", provider)
	}
	if len(attempted) != 1 || attempted[0] != "secondary" {
		t.Errorf("attempted = %v, want [secondary]", attempted)
	}
}

func TestAttempt_AllCircuitsOpen(t *testing.T) {
	c := newTestChain("primary")
	c.Breaker("primary").RecordFailure()
	c.Breaker("primary").RecordFailure()

	_, _, err := Attempt(context.Background(), c, func(_ context.Context, p string) (string, error) {
		t.Fatal("fn should not be called when all circuits are open")
		return p, nil
	})
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("err = %v, want ErrAllProvidersExhausted", err)
	}
}

func TestAttempt_PerProviderTimeout(t *testing.T) {
	c := NewChain[string]("test", BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	c.Add(ProviderSpec{Name: "slow", Timeout: 10 * time.Millisecond, Priority: 0}, "slow")
	c.Add(ProviderSpec{Name: "fast", Priority: 1}, "fast")

	result, provider, err := Attempt(context.Background(), c, func(ctx context.Context, p string) (string, error) {
		if p == "slow" {
			select {
			case <-time.After(time.Second):
				return "too late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return "quick", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "fast" {
		t.Errorf("provider = %q, want fast (slow should time out)", provider)
	}
	if result != "quick" {
		t.Errorf("result = %q", result)
	}
}

func TestAttempt_ParentContextCancelled(t *testing.T) {
	c := newTestChain("primary")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Attempt(ctx, c, func(_ context.Context, p string) (string, error) {
		t.Fatal("fn should not run with a cancelled parent context")
		return p, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestProviderError_ErrorAndUnwrap(t *testing.T) {
	pe := &ProviderError{Provider: "openai", Permanent: true, Err: errTest}
	if !errors.Is(pe, errTest) {
		t.Error("ProviderError should unwrap to the cause")
	}
	if pe.Error() == "" {
		t.Error("Error() should not be empty")
	}

	transient := &ProviderError{Provider: "openai", Err: errTest}
	if transient.Error() == pe.Error() {
		t.Error("permanent and transient failures should render differently")
	}
}
