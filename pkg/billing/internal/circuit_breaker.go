package internal

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// ErrCircuitOpen is returned by Execute while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe call is allowed (default: 30s)
	ResetTimeout time.Duration

	// IsFailure decides whether an error counts against the breaker.
	// Defaults to every non-nil error except context cancellation.
	IsFailure func(error) bool

	// OnStateChange is called with the new state after every transition (optional)
	OnStateChange func(BreakerState)

	// Now overrides the clock (tests)
	Now func() time.Time
}

// CircuitBreaker stops calling a failing upstream for ResetTimeout after
// FailureThreshold consecutive failures. Once the timeout elapses it lets
// calls through in the half-open state; the first success closes the
// circuit and the first failure opens it again.
type CircuitBreaker struct {
	mu sync.Mutex

	conf                BreakerConfig
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(conf BreakerConfig) *CircuitBreaker {
	if conf.FailureThreshold <= 0 {
		conf.FailureThreshold = 5
	}
	if conf.ResetTimeout <= 0 {
		conf.ResetTimeout = 30 * time.Second
	}
	if conf.IsFailure == nil {
		conf.IsFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	return &CircuitBreaker{conf: conf, state: StateClosed}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) currentState() BreakerState {
	if cb.state == StateOpen && cb.conf.Now().Sub(cb.openedAt) >= cb.conf.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cb.State() == StateOpen {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil && cb.conf.IsFailure(err) {
		cb.failure()
		return err
	}
	cb.success()
	return err
}

func (cb *CircuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	if cb.state != StateClosed {
		cb.changeState(StateClosed)
	}
}

func (cb *CircuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	switch cb.currentState() {
	case StateHalfOpen:
		cb.openedAt = cb.conf.Now()
		cb.notify(StateOpen)
	case StateClosed:
		if cb.consecutiveFailures >= cb.conf.FailureThreshold {
			cb.openedAt = cb.conf.Now()
			cb.changeState(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) changeState(state BreakerState) {
	if cb.state == state {
		return
	}
	cb.state = state
	cb.notify(state)
}

func (cb *CircuitBreaker) notify(state BreakerState) {
	if cb.conf.OnStateChange != nil {
		cb.conf.OnStateChange(state)
	}
}
