package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/onnwee/cachemanager/internal/metrics"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// TripFunc is notified every time the breaker opens.
type TripFunc func(name string, lastErr error)

// CircuitBreaker stops calling a failing dependency until a cooldown elapses.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	name            string

	failureThreshold int
	successThreshold int
	timeout          time.Duration
	onTrip           TripFunc
	now              func() time.Time
}

// Config holds circuit breaker configuration
type Config struct {
	Name             string
	FailureThreshold int           // Number of failures before opening
	SuccessThreshold int           // Number of successes needed to close from half-open
	Timeout          time.Duration // Time to wait before trying half-open
	OnTrip           TripFunc
}

// New creates a new circuit breaker
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	cb := &CircuitBreaker{
		state:            StateClosed,
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		onTrip:           cfg.OnTrip,
		now:              time.Now,
	}

	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	return cb
}

// Call executes fn if the breaker allows it. A panic inside fn is recorded
// as a failure and re-raised.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	failed := true
	defer func() {
		if failed {
			cb.recordFailure(errors.New("panic in protected call"))
		}
	}()

	err := fn()
	failed = false
	if err != nil {
		cb.recordFailure(err)
		return err
	}

	cb.recordSuccess()
	return nil
}

// Name returns the component label used for metrics.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.timeout {
			cb.setStateLocked(StateHalfOpen)
			cb.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.mu.Lock()

	cb.lastFailureTime = cb.now()
	cb.successCount = 0

	tripped := false
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.setStateLocked(StateOpen)
			tripped = true
		}
	case StateHalfOpen:
		cb.failureCount = 0
		cb.setStateLocked(StateOpen)
		tripped = true
	}
	onTrip := cb.onTrip
	cb.mu.Unlock()

	if tripped {
		metrics.CircuitBreakerTrips.WithLabelValues(cb.name).Inc()
		if onTrip != nil {
			onTrip(cb.name, err)
		}
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setStateLocked(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

func (cb *CircuitBreaker) setStateLocked(s State) {
	cb.state = s
	switch s {
	case StateClosed:
		metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(0)
	case StateOpen:
		metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(1)
	case StateHalfOpen:
		metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(2)
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
