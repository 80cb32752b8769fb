package retry

import (
	"fmt"
	"sync"
	"time"

	errs "stratumproxy/internal/errors"
)

// State is where a CircuitBreaker stands.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls fail fast until the pause ends
	StateHalfOpen              // calls pass; one failure reopens
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig tunes a CircuitBreaker.  Zero fields take the
// defaults noted on each.
type CircuitBreakerConfig struct {
	MaxFailures  int           // consecutive failures that open the circuit (5)
	ResetTimeout time.Duration // how long an open circuit stays open (30s)
	HalfOpenMax  int           // successes needed to close again (2)

	// OnStateChange runs on every transition, under the breaker's lock.
	OnStateChange func(from, to State)
}

// CircuitBreaker counts consecutive failures of one operation and, past
// a threshold, refuses to run it for a while.  Accept loops wrap
// Accept in one so that EMFILE storms turn into a pause.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker returns a closed breaker.  cfg may be nil.
func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	var c CircuitBreakerConfig
	if cfg != nil {
		c = *cfg
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 2
	}
	return &CircuitBreaker{cfg: c}
}

// Execute runs fn unless the circuit is open, in which case it returns
// an error wrapping ErrCircuitOpen without calling fn.  The lock is not
// held while fn runs, so fn may block.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// CurrentState returns the state, moving an expired open circuit to
// half-open first.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	return cb.state
}

// RetryAfter is how much longer an open circuit refuses calls; zero
// otherwise.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	return max(cb.cfg.ResetTimeout-time.Since(cb.openedAt), 0)
}

// ── internal ─────────────────────────────────────────────────────────

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	if cb.state != StateOpen {
		return nil
	}
	left := cb.cfg.ResetTimeout - time.Since(cb.openedAt)
	return fmt.Errorf("%w after %d failures, retry in %v",
		errs.ErrCircuitOpen, cb.failures, left.Truncate(time.Millisecond))
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.successes = 0
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.openedAt = time.Now()
			cb.moveTo(StateOpen)
		}
		return
	}

	cb.successes++
	if cb.state == StateHalfOpen && cb.successes < cb.cfg.HalfOpenMax {
		return
	}
	cb.failures = 0
	cb.moveTo(StateClosed)
}

// expire lets an open circuit probe again once ResetTimeout has passed.
func (cb *CircuitBreaker) expire() {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.successes = 0
		cb.moveTo(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
