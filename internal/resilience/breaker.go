package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrCircuitOpen is returned without invoking the wrapped function while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes when the breaker trips and recovers.
type BreakerConfig struct {
	// FailureThreshold is how many consecutive failures open the circuit.
	FailureThreshold int
	// CoolDown is how long the circuit stays open before allowing a trial.
	CoolDown time.Duration

	// OnStateChange is called outside the lock on every transition.
	OnStateChange func(from, to BreakerState)
}

// Breaker gates calls to a failing dependency. Closed passes calls through,
// open fails them immediately, half-open admits a single trial call.
type Breaker struct {
	cfg BreakerConfig
	clk clock.Clock

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	inTrial  bool
}

func NewBreaker(cfg BreakerConfig) (*Breaker, error) {
	if cfg.FailureThreshold <= 0 {
		return nil, errors.New("breaker: failureThreshold must be > 0")
	}
	if cfg.CoolDown <= 0 {
		return nil, errors.New("breaker: coolDown must be > 0")
	}
	return &Breaker{cfg: cfg, clk: clock.New(), state: StateClosed}, nil
}

// WithClock swaps the wall clock, for tests.
func (b *Breaker) WithClock(clk clock.Clock) *Breaker {
	b.clk = clk
	return b
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn through the breaker. While open it returns ErrCircuitOpen
// without invoking fn; after the cool-down exactly one trial call is let
// through.
func (b *Breaker) Do(fn func() error) error {
	trial, change, err := b.admit()
	if change != nil {
		change()
	}
	if err != nil {
		return err
	}

	callErr := fn()
	if change = b.record(trial, callErr); change != nil {
		change()
	}
	return callErr
}

// admit decides whether the next call may proceed. It returns whether the
// call is a half-open trial and a deferred OnStateChange notification.
func (b *Breaker) admit() (trial bool, change func(), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil, nil
	case StateOpen:
		if b.clk.Now().Sub(b.openedAt) < b.cfg.CoolDown {
			return false, nil, ErrCircuitOpen
		}
		change = b.transition(StateHalfOpen)
		b.inTrial = true
		return true, change, nil
	case StateHalfOpen:
		if b.inTrial {
			// Only one trial call at a time.
			return false, nil, ErrCircuitOpen
		}
		b.inTrial = true
		return true, nil, nil
	}
	return false, nil, nil
}

func (b *Breaker) record(trial bool, callErr error) (change func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.inTrial = false
	}

	if callErr == nil {
		b.failures = 0
		if b.state != StateClosed {
			change = b.transition(StateClosed)
		}
		return change
	}

	if trial {
		// Failed trial re-opens and restarts the cool-down.
		b.openedAt = b.clk.Now()
		return b.transition(StateOpen)
	}

	b.failures++
	if b.state == StateClosed && b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.clk.Now()
		return b.transition(StateOpen)
	}
	return nil
}

// transition must be called with the lock held; the returned func fires the
// OnStateChange hook and must be invoked after the lock is released.
func (b *Breaker) transition(to BreakerState) func() {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange == nil || from == to {
		return nil
	}
	return func() { b.cfg.OnStateChange(from, to) }
}
