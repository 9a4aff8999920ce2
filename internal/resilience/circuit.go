// Package resilience wraps calls to flaky upstreams with retry,
// circuit-breaking, and dead-letter tracking.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the breaker's position in the closed/open/half-open cycle.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen reports a call rejected before it reached the upstream.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls when a breaker opens and recovers.
// Zero-valued fields take the DefaultCircuitBreakerConfig values.
type CircuitBreakerConfig struct {
	FailureThreshold  int           // consecutive failures before the circuit opens
	ResetTimeout      time.Duration // open duration before probe calls are allowed
	HalfOpenMaxProbes int           // successful probes required to close again
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker guards one upstream. After FailureThreshold consecutive
// failures it rejects calls for ResetTimeout, then lets single calls
// through until enough of them succeed to close the circuit again.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	log *zap.Logger
	now func() time.Time

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker builds a breaker for the named upstream. The name
// only appears in state-change logs.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	return &CircuitBreaker{
		cfg:   cfg,
		log:   zap.L().With(zap.String("component", "circuit_breaker"), zap.String("upstream", name)),
		now:   time.Now,
		state: CircuitClosed,
	}
}

// WithNow injects a clock for tests.
func (cb *CircuitBreaker) WithNow(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Execute routes fn through the breaker, rejecting with ErrCircuitOpen
// while the circuit is open. Every completed call counts toward the
// breaker's failure or recovery tally.
func Execute[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

// State reports the current position, accounting for an open circuit
// whose reset timeout has already elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		cb.setState(CircuitHalfOpen)
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case CircuitHalfOpen:
			cb.successes++
			if cb.successes >= cb.cfg.HalfOpenMaxProbes {
				cb.setState(CircuitClosed)
			}
		case CircuitClosed:
			cb.failures = 0
		}
		return
	}

	cb.failures++
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.now()
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure during recovery reopens the circuit for a full
		// reset timeout.
		cb.openedAt = cb.now()
		cb.setState(CircuitOpen)
	}
}

// setState is called with the mutex held.
func (cb *CircuitBreaker) setState(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.successes = 0
	if to == CircuitOpen {
		cb.log.Warn("circuit opened",
			zap.String("from", from.String()),
			zap.Int("consecutive_failures", cb.failures))
		return
	}
	if to == CircuitClosed {
		cb.failures = 0
	}
	cb.log.Info("circuit state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}
