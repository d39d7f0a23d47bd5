package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

// fakeClock lets tests step past the cooldown without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(failures int, onTrip TripFunc) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New(Config{
		Name:             "test",
		FailureThreshold: failures,
		SuccessThreshold: 2,
		Timeout:          100 * time.Millisecond,
		OnTrip:           onTrip,
	})
	cb.now = clk.now
	return cb, clk
}

func TestCircuitBreakerStateClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, nil)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to be Closed, got %v", cb.GetState())
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, nil)
	testErr := errors.New("test error")

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return testErr }); err != testErr {
			t.Errorf("Expected test error, got: %v", err)
		}
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state to be Open, got %v", cb.GetState())
	}

	called := false
	err := cb.Call(func() error { called = true; return nil })
	if err != ErrCircuitOpen {
		t.Errorf("Expected ErrCircuitOpen, got: %v", err)
	}
	if called {
		t.Error("protected function must not run while open")
	}
}

func TestCircuitBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb, clk := newTestBreaker(2, nil)
	testErr := errors.New("test error")

	cb.Call(func() error { return testErr })
	cb.Call(func() error { return testErr })

	clk.advance(150 * time.Millisecond)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Errorf("Expected success in half-open state, got: %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected Half-Open after one success, got %v", cb.GetState())
	}
}

func TestCircuitBreakerClosesAfterSuccesses(t *testing.T) {
	cb, clk := newTestBreaker(2, nil)
	testErr := errors.New("test error")

	cb.Call(func() error { return testErr })
	cb.Call(func() error { return testErr })
	clk.advance(150 * time.Millisecond)

	cb.Call(func() error { return nil })
	cb.Call(func() error { return nil })

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to be Closed, got %v", cb.GetState())
	}
}

func TestCircuitBreakerReopensOnFailureInHalfOpen(t *testing.T) {
	trips := 0
	cb, clk := newTestBreaker(2, func(name string, err error) { trips++ })
	testErr := errors.New("test error")

	cb.Call(func() error { return testErr })
	cb.Call(func() error { return testErr })
	clk.advance(150 * time.Millisecond)

	cb.Call(func() error { return testErr })

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state to be Open after failure in half-open, got %v", cb.GetState())
	}
	if trips != 2 {
		t.Errorf("Expected 2 trips, got %d", trips)
	}
}

func TestCircuitBreakerPanicCountsAsFailure(t *testing.T) {
	cb, _ := newTestBreaker(1, nil)

	func() {
		defer func() { _ = recover() }()
		cb.Call(func() error { panic("boom") })
	}()

	if cb.GetState() != StateOpen {
		t.Errorf("Expected panic to open the breaker, got %v", cb.GetState())
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
