package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "test"})
	if cb.failureThreshold != 5 {
		t.Errorf("failureThreshold = %d, want 5", cb.failureThreshold)
	}
	if cb.cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", cb.cooldown)
	}
	if cb.successThreshold != 3 {
		t.Errorf("successThreshold = %d, want 3", cb.successThreshold)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedAllowsCalls(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", FailureThreshold: 3})
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		Cooldown:         time.Hour, // long cooldown so it stays open
	})

	// 3 consecutive failures should open the breaker.
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errTest })
	}

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.State())
	}

	// Next call should be rejected.
	err := cb.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
	})

	// 2 failures, then a success — should not open.
	_ = cb.Execute(func() error { return errTest })
	_ = cb.Execute(func() error { return nil })

	failures, _ := cb.Counters()
	if failures != 0 {
		t.Fatalf("failures = %d, want 0 after success", failures)
	}

	// Need 3 fresh consecutive failures to open now.
	_ = cb.Execute(func() error { return errTest })
	_ = cb.Execute(func() error { return errTest })
	if cb.State() != StateClosed {
		t.Fatal("should still be closed after 2 failures post-reset")
	}
}

func TestCircuitBreaker_OpenToHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		Cooldown:         10 * time.Millisecond,
	})

	_ = cb.Execute(func() error { return errTest })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if !cb.IsOpen() {
		t.Fatal("IsOpen should be true during cooldown")
	}

	time.Sleep(20 * time.Millisecond)

	// Cooldown elapsed: the next IsOpen call lets a probe through.
	if cb.IsOpen() {
		t.Fatal("IsOpen should be false after cooldown")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenToClosed(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		Cooldown:         time.Millisecond,
		SuccessThreshold: 3,
	})

	cb.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	if cb.IsOpen() {
		t.Fatal("breaker should allow probes after cooldown")
	}

	// 2 probe successes are not enough.
	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after 2 probes", cb.State())
	}

	// 3rd success closes it.
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after 3 probes", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		Cooldown:         time.Millisecond,
	})

	cb.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	if cb.IsOpen() {
		t.Fatal("breaker should allow probes after cooldown")
	}

	// A single probe failure re-opens with a fresh cooldown.
	cb.RecordSuccess()
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after probe failure", cb.State())
	}
	if !cb.IsOpen() {
		t.Fatal("IsOpen should be true immediately after re-opening")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	})

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	failures, successes := cb.Counters()
	if failures != 0 || successes != 0 {
		t.Fatalf("counters = (%d, %d), want (0, 0)", failures, successes)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", FailureThreshold: 100})

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(fail bool) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				_ = cb.Execute(func() error {
					if fail {
						return errTest
					}
					return nil
				})
				cb.IsOpen()
				cb.Counters()
			}
		}(i%2 == 0)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}

func TestState_String(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
