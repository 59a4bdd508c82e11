// Package resilience wraps external provider calls in retry, timeout, and
// circuit breaker discipline so one flaky provider cannot stall every
// document in flight.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state — requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many consecutive failures — requests fail fast.
	CircuitOpen
	// CircuitHalfOpen allows probe requests to test recovery.
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

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitConfig controls circuit breaker behavior.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before allowing
	// half-open probes. Default: 60s.
	ResetTimeout time.Duration

	// HalfOpenSuccesses is the number of consecutive successful probes in
	// half-open state required to close the circuit. Default: 3.
	HalfOpenSuccesses int

	// OnStateChange is called with the circuit name on each transition.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitConfig returns the default breaker thresholds.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold:  5,
		ResetTimeout:      60 * time.Second,
		HalfOpenSuccesses: 3,
	}
}

// Breaker implements the circuit breaker pattern for one named provider.
// Safe for concurrent use: extraction runs for different documents share
// breakers, which is the intended cross-document protection.
type Breaker struct {
	name string
	cfg  CircuitConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	halfOpenSuccesses   int
	lastFailureTime     time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewBreaker creates a circuit breaker for the named provider.
func NewBreaker(name string, cfg CircuitConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = 3
	}
	return &Breaker{
		name:    name,
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Name returns the provider name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Call runs fn through the breaker, preserving its return value. Returns
// ErrCircuitOpen without invoking fn if the circuit is open and the reset
// timeout has not elapsed.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allowRequest(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.recordResult(err)
	return val, err
}

// Execute runs fn through the breaker when no return value is needed.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allowRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	b.recordResult(err)
	return err
}

// State returns the current circuit state, accounting for reset timeout.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.nowFunc().Sub(b.lastFailureTime) >= b.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

// Snapshot returns the breaker's counters for observability.
func (b *Breaker) Snapshot() (state CircuitState, consecutiveFailures int, lastFailure time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.consecutiveFailures, b.lastFailureTime
}

// Reset forces the circuit back to closed. Used for manual recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = CircuitClosed
	b.consecutiveFailures = 0
	b.halfOpenSuccesses = 0
	if old != CircuitClosed && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, old, CircuitClosed)
	}
}

func (b *Breaker) allowRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.nowFunc().Sub(b.lastFailureTime) >= b.cfg.ResetTimeout {
			b.transition(CircuitHalfOpen)
			return nil // allow probe
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *Breaker) recordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case CircuitHalfOpen:
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= b.cfg.HalfOpenSuccesses {
				b.transition(CircuitClosed)
				b.consecutiveFailures = 0
				b.halfOpenSuccesses = 0
			}
		case CircuitClosed:
			b.consecutiveFailures = 0
		}
		return
	}

	b.consecutiveFailures++
	b.lastFailureTime = b.nowFunc()

	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure during probing reopens the circuit.
		b.transition(CircuitOpen)
		b.halfOpenSuccesses = 0
	}
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Pool manages one breaker per named provider. Process-wide: breakers are
// created lazily on first use and outlive any single extraction run.
type Pool struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      CircuitConfig
}

// NewPool creates a registry of per-provider circuit breakers.
func NewPool(cfg CircuitConfig) *Pool {
	return &Pool{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for the named provider, creating one if needed.
func (p *Pool) Get(name string) *Breaker {
	p.mu.RLock()
	b, ok := p.breakers[name]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok = p.breakers[name]; ok {
		return b
	}
	b = NewBreaker(name, p.cfg)
	p.breakers[name] = b
	return b
}

// Reset closes the named breaker. Returns false if no such breaker exists.
func (p *Pool) Reset(name string) bool {
	p.mu.RLock()
	b, ok := p.breakers[name]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// States returns a snapshot of every breaker's current state.
func (p *Pool) States() map[string]CircuitState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	states := make(map[string]CircuitState, len(p.breakers))
	for name, b := range p.breakers {
		states[name] = b.State()
	}
	return states
}
