package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned without invoking the guarded function while a
// breaker is refusing traffic.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// CircuitState is the breaker's admission mode.
type CircuitState int

const (
	// StateClosed admits every call.
	StateClosed CircuitState = iota
	// StateOpen rejects every call until the reset window elapses.
	StateOpen
	// StateHalfOpen admits probe calls to test recovery.
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// BreakerConfig controls when a breaker trips and recovers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Default 5.
	FailureThreshold int

	// ResetTimeout is how long an open breaker refuses traffic before
	// admitting probes. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is how many probe successes close the breaker again.
	// Default 1.
	HalfOpenProbes int
}

// Breaker trips after consecutive failures against one named service and
// refuses further calls until a reset window has passed. Every error counts
// as a failure: a provider that keeps returning garbage deserves the same
// back-off as one that is down.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	probeWins   int
	lastFailure time.Time

	// now is swappable in tests.
	now func() time.Time
}

// NewBreaker creates a closed breaker for the named service.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Guard runs fn through the breaker. While the breaker is open the call is
// rejected with ErrCircuitOpen and fn is never invoked.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !b.admit() {
		return zero, ErrCircuitOpen
	}

	val, err := fn(ctx)
	b.observe(err)
	if err != nil {
		return zero, err
	}
	return val, nil
}

// State reports the effective state, accounting for an elapsed reset window.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return true
	}
	if b.now().Sub(b.lastFailure) < b.cfg.ResetTimeout {
		return false
	}
	b.shift(StateHalfOpen)
	return true
}

func (b *Breaker) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case StateHalfOpen:
			b.probeWins++
			if b.probeWins >= b.cfg.HalfOpenProbes {
				b.failures = 0
				b.probeWins = 0
				b.shift(StateClosed)
			}
		case StateClosed:
			b.failures = 0
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.shift(StateOpen)
		}
	case StateHalfOpen:
		// One failed probe reopens immediately.
		b.probeWins = 0
		b.shift(StateOpen)
	}
}

func (b *Breaker) shift(to CircuitState) {
	from := b.state
	b.state = to

	log := zap.L().Info
	if to == StateOpen {
		log = zap.L().Warn
	}
	log("circuit state changed",
		zap.String("service", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// BreakerGroup hands out one breaker per named service, all sharing a
// config, so one flaky upstream does not trip the others.
type BreakerGroup struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

// NewBreakerGroup creates an empty group.
func NewBreakerGroup(cfg BreakerConfig) *BreakerGroup {
	return &BreakerGroup{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for the named service, creating it on first use.
func (g *BreakerGroup) Get(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, g.cfg)
	g.breakers[name] = b
	return b
}
