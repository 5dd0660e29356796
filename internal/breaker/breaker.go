package breaker

import (
	"context"
	"sync"
	"time"

	"selfLearningBot/internal/ports"
)

// State is the current circuit breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// StateChange is emitted to the optional observer on every transition.
type StateChange struct {
	From         State
	To           State
	FailureCount int
	At           time.Time
}

// Config holds circuit breaker parameters.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a trial call.
	RecoveryTimeout time.Duration
	// OnStateChange, when set, is called synchronously on every transition.
	OnStateChange func(StateChange)
	Logger        ports.Logger
}

// Breaker wraps a fallible operation and fails fast after repeated failures.
// State transitions are serialized; at most one trial call is admitted while
// the circuit is half open.
type Breaker struct {
	mu              sync.Mutex
	cfg             Config
	state           State
	failureCount    int
	lastFailureTime time.Time
	trialInFlight   bool
	now             func() time.Time // injectable clock for tests
}

// New creates a circuit breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = time.Minute
	}
	return &Breaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op through the breaker. While OPEN and cooling down it returns
// ports.ErrCircuitOpen without invoking op. Once the cooldown has elapsed a
// single trial call is admitted; its success closes the circuit, its failure
// re-opens it.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) < b.cfg.RecoveryTimeout {
			b.mu.Unlock()
			return ports.ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
	case StateHalfOpen:
		if b.trialInFlight {
			// Another caller already holds the trial slot.
			b.mu.Unlock()
			return ports.ErrCircuitOpen
		}
		b.trialInFlight = true
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
	if err != nil {
		b.failureCount++
		b.lastFailureTime = b.now()
		if b.state == StateHalfOpen || b.failureCount >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
		return err
	}
	if b.state == StateHalfOpen {
		b.failureCount = 0
		b.transition(StateClosed)
	} else if b.state == StateClosed {
		b.failureCount = 0
	}
	return nil
}

// Reset forces the breaker back to CLOSED and clears all counters. The change
// is emitted even when already CLOSED so manual resets stay observable.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	b.trialInFlight = false
	b.transition(StateClosed)
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	change := StateChange{From: from, To: to, FailureCount: b.failureCount, At: b.now()}
	if b.cfg.Logger != nil {
		b.cfg.Logger.Info(context.Background(), "circuit breaker state change", map[string]interface{}{
			"from":     string(from),
			"to":       string(to),
			"failures": b.failureCount,
		})
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(change)
	}
}
