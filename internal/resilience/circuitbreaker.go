package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is one of closed, open, half-open.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Breaker.Execute while the breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit breaker open")

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	MaxFailures int           // consecutive failures before opening
	Timeout     time.Duration // time spent open before probing half-open
	HalfOpenMax int           // successes required in half-open to close
}

// DefaultBreakerConfig matches spec.md's webhook delivery cadence: a
// target that fails 5 times running is given 30s before the next probe,
// the same as one backoff step.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second, HalfOpenMax: 2}
}

// Breaker implements a per-target circuit breaker: once MaxFailures
// consecutive calls fail it opens and short-circuits further calls for
// Timeout, then allows a limited number of half-open probes before fully
// closing again. Used by the webhook engine to stop hammering a target
// URL that is consistently down, independently of and in addition to
// each delivery's own retry backoff.
type Breaker struct {
	mu           sync.Mutex
	cfg          BreakerConfig
	state        BreakerState
	failures     int
	successes    int
	halfOpenReqs int
	openedAt     time.Time
}

// NewBreaker constructs a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 2
	}
	return &Breaker{cfg: cfg, state: BreakerClosed}
}

// State reports the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn if the breaker allows it, recording the outcome.
// Returns ErrCircuitOpen without calling fn when open.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err == nil)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) > b.cfg.Timeout {
			b.transition(BreakerHalfOpen)
			b.halfOpenReqs = 1
			return nil
		}
		return ErrCircuitOpen
	case BreakerHalfOpen:
		if b.halfOpenReqs >= b.cfg.HalfOpenMax {
			return ErrCircuitOpen
		}
		b.halfOpenReqs++
	}
	return nil
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		switch b.state {
		case BreakerHalfOpen:
			b.successes++
			if b.successes >= b.cfg.HalfOpenMax {
				b.transition(BreakerClosed)
			}
		case BreakerClosed:
			b.failures = 0
		}
		return
	}

	b.failures++
	switch b.state {
	case BreakerHalfOpen:
		b.transition(BreakerOpen)
	case BreakerClosed:
		if b.failures >= b.cfg.MaxFailures {
			b.transition(BreakerOpen)
		}
	}
}

func (b *Breaker) transition(to BreakerState) {
	if b.state == to {
		return
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	b.halfOpenReqs = 0
	if to == BreakerOpen {
		b.openedAt = time.Now()
	}
}

// BreakerRegistry holds one Breaker per key (e.g. per target host), so a
// single engine can isolate failures of one webhook target from another.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

// NewBreakerRegistry builds a registry that lazily creates a Breaker with
// cfg for each new key.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the Breaker for key, creating it if this is the first call.
func (r *BreakerRegistry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = NewBreaker(r.cfg)
		r.breakers[key] = b
	}
	return b
}
