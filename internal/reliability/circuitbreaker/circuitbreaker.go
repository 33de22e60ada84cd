package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// ErrOpen is returned by Execute while the circuit rejects calls
var ErrOpen = errors.New("circuit breaker is open")

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreaker stops calling a dependency after failureThreshold
// consecutive failures. After timeout one probe at a time is let through;
// successThreshold successful probes close the circuit again, and any
// failed probe reopens it.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failures         int32
	successes        int32
	openedAt         time.Time
	probing          bool
	failureThreshold int32
	successThreshold int32
	timeout          time.Duration
	now              func() time.Time
	onStateChange    func(from, to State)
	ignore           func(error) bool
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(failureThreshold, successThreshold int32, timeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// SetStateChangeCallback registers a callback for state transitions. It runs
// outside the breaker's lock.
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// SetIgnore registers a predicate for errors that say nothing about the
// dependency's health, such as the caller giving up. Calls failing with
// such an error leave the counters untouched.
func (cb *CircuitBreaker) SetIgnore(fn func(error) bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.ignore = fn
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn when the circuit allows it and records the outcome.
// While open, or while a half-open probe is already in flight, it returns
// ErrOpen without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.acquire()
	if err != nil {
		return err
	}
	err = fn()
	if err != nil && cb.ignored(err) {
		cb.release(probe)
		return err
	}
	cb.record(err == nil, probe)
	return err
}

func (cb *CircuitBreaker) ignored(err error) bool {
	cb.mu.Lock()
	fn := cb.ignore
	cb.mu.Unlock()
	return fn != nil && fn(err)
}

// release frees the half-open probe slot without recording an outcome
func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	var from State
	changed := false
	defer func() {
		fn := cb.onStateChange
		cb.mu.Unlock()
		if changed && fn != nil {
			fn(from, StateHalfOpen)
		}
	}()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.timeout {
			return false, ErrOpen
		}
		from, changed = cb.state, true
		cb.state = StateHalfOpen
		cb.successes = 0
	}
	if cb.probing {
		return false, ErrOpen
	}
	cb.probing = true
	return true, nil
}

func (cb *CircuitBreaker) record(ok, probe bool) {
	cb.mu.Lock()
	from := cb.state
	to := from

	if probe {
		cb.probing = false
	}
	switch cb.state {
	case StateClosed:
		if ok {
			cb.failures = 0
		} else if cb.failures++; cb.failures >= cb.failureThreshold {
			to = StateOpen
		}
	case StateHalfOpen:
		if !ok {
			to = StateOpen
		} else if cb.successes++; cb.successes >= cb.successThreshold {
			to = StateClosed
		}
	}

	if to != from {
		cb.state = to
		cb.failures = 0
		cb.successes = 0
		if to == StateOpen {
			cb.openedAt = cb.now()
		}
	}
	fn := cb.onStateChange
	cb.mu.Unlock()

	if to != from && fn != nil {
		fn(from, to)
	}
}
