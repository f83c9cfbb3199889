// Package circuitbreaker stops the controller from waiting on a model
// server that keeps failing. After TripAfter consecutive failures the
// breaker rejects calls for Cooldown, then lets trial calls through until
// CloseAfter of them succeed.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned instead of calling a tripped endpoint.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

// Config tunes a Breaker. Zero values take the defaults used for the
// advisory endpoint.
type Config struct {
	// Name labels transitions in logs and metrics.
	Name string
	// TripAfter is the consecutive failure count that opens the breaker (5).
	TripAfter int
	// CloseAfter is the number of trial successes that close it again (2).
	CloseAfter int
	// Cooldown is how long an open breaker rejects calls (30s).
	Cooldown time.Duration
	// OnTransition runs under the breaker lock on every state change.
	OnTransition func(name string, from, to State)
	Now          func() time.Time
}

type Breaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	failures  int
	trials    int
	trippedAt time.Time
}

func New(cfg Config) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.CloseAfter <= 0 {
		cfg.CloseAfter = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

func (b *Breaker) Name() string { return b.cfg.Name }

// State reports the current state. An open breaker whose cooldown has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooledDown()
	return b.state
}

// Allow returns ErrCircuitOpen while the breaker is open.
func (b *Breaker) Allow() error {
	if b.State() == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Call runs fn unless the breaker is open and feeds the result back.
// A cancelled context says nothing about the endpoint and is not counted.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	if errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		b.Failure()
	} else {
		b.Success()
	}
	return err
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != StateHalfOpen {
		return
	}
	b.trials++
	if b.trials >= b.cfg.CloseAfter {
		b.moveTo(StateClosed)
	}
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.trials = 0
	b.trippedAt = b.cfg.Now()

	switch b.state {
	case StateHalfOpen:
		b.moveTo(StateOpen)
	case StateClosed:
		if b.failures >= b.cfg.TripAfter {
			b.moveTo(StateOpen)
		}
	}
}

// cooledDown requires b.mu.
func (b *Breaker) cooledDown() {
	if b.state == StateOpen && b.cfg.Now().Sub(b.trippedAt) > b.cfg.Cooldown {
		b.moveTo(StateHalfOpen)
	}
}

// moveTo requires b.mu.
func (b *Breaker) moveTo(next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.trials = 0
	if next == StateClosed {
		b.failures = 0
	}
	if b.cfg.OnTransition != nil {
		b.cfg.OnTransition(b.cfg.Name, prev, next)
	}
}
