// Package resilience holds the failure-handling primitives used around external
// calls: retry with backoff, per-service circuit breakers, and transient error
// classification.
package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is a circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned by Execute when the breaker rejects a call.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// BreakerConfig controls when a breaker opens and how it recovers.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Cooldown is how long the circuit stays open before a trial call is allowed.
	Cooldown time.Duration
	// Probes is the number of successful half-open calls needed to close.
	Probes int
	// OnChange observes state transitions.
	OnChange func(name string, from, to State)
}

// DefaultBreakerConfig returns the defaults used for providers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second, Probes: 1}
}

// Breaker is a consecutive-failure circuit breaker for one service.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	nowFunc   func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	d := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = d.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = d.Probes
	}
	return &Breaker{name: name, cfg: cfg, nowFunc: time.Now}
}

// WithNow sets the clock, for tests.
func (b *Breaker) WithNow(now func() time.Time) *Breaker {
	b.nowFunc = now
	return b
}

// Allow reports whether a call may proceed. An open breaker whose cooldown
// has elapsed moves to half-open and admits one trial call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open {
		if b.nowFunc().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.set(HalfOpen)
		b.successes = 0
	}
	return true
}

// Record feeds a call outcome into the breaker.
func (b *Breaker) Record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !failed {
		b.failures = 0
		if b.state == HalfOpen {
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.set(Closed)
			}
		}
		return
	}

	b.failures++
	switch {
	case b.state == HalfOpen, b.state == Closed && b.failures >= b.cfg.Threshold:
		b.openedAt = b.nowFunc()
		b.set(Open)
	}
}

// Execute runs fn if the breaker allows it and records the result.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	b.Record(err != nil)
	return err
}

// State returns the current state without admitting a trial call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.successes = 0, 0
	b.set(Closed)
}

func (b *Breaker) set(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnChange != nil {
		b.cfg.OnChange(b.name, from, to)
	}
}

// Breakers lazily holds one breaker per service name.
type Breakers struct {
	cfg BreakerConfig

	mu  sync.Mutex
	all map[string]*Breaker
	now func() time.Time
}

// NewBreakers creates an empty set sharing cfg.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, all: make(map[string]*Breaker)}
}

// WithNow sets the clock of breakers created from now on, for tests.
func (s *Breakers) WithNow(now func() time.Time) *Breakers {
	s.now = now
	return s
}

// Get returns the breaker for name, creating it closed on first use.
func (s *Breakers) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.all[name]; ok {
		return b
	}
	b := NewBreaker(name, s.cfg)
	if s.now != nil {
		b.nowFunc = s.now
	}
	s.all[name] = b
	return b
}

// Snapshot returns each known service and its state, sorted by name.
func (s *Breakers) Snapshot() []ServiceState {
	s.mu.Lock()
	names := make([]string, 0, len(s.all))
	for n := range s.all {
		names = append(names, n)
	}
	s.mu.Unlock()
	sort.Strings(names)

	out := make([]ServiceState, 0, len(names))
	for _, n := range names {
		b := s.Get(n)
		out = append(out, ServiceState{Name: n, State: b.State(), Failures: b.Failures()})
	}
	return out
}

// ServiceState is one row of a Breakers snapshot.
type ServiceState struct {
	Name     string
	State    State
	Failures int
}
