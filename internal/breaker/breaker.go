// Package breaker implements the per-facade circuit breaker: a
// CLOSED/OPEN/HALF_OPEN state machine with an in-flight cap and a
// per-call timeout.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/tombee/conduit/internal/spi"
)

// State is the breaker's current mode.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config holds breaker tuning. Zero values take the defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// that closes the circuit again.
	SuccessThreshold int

	// HalfOpenAfter is how long the circuit stays open before one probe
	// is allowed through.
	HalfOpenAfter time.Duration

	// MaxConcurrent caps in-flight calls; excess calls fail fast.
	MaxConcurrent int

	// Timeout bounds each call; expiry counts as a failure.
	Timeout time.Duration
}

// DefaultConfig returns the standard breaker tuning.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		HalfOpenAfter:    10 * time.Second,
		MaxConcurrent:    20,
		Timeout:          30 * time.Second,
	}
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	def := DefaultConfig()
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = def.FailureThreshold
	}
	if out.SuccessThreshold <= 0 {
		out.SuccessThreshold = def.SuccessThreshold
	}
	if out.HalfOpenAfter <= 0 {
		out.HalfOpenAfter = def.HalfOpenAfter
	}
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = def.MaxConcurrent
	}
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	return out
}

// Breaker guards calls to one connector instance. All state is private
// to the breaker; there is no cross-breaker coordination.
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	state     State
	failures  int
	successes int
	openedAt  time.Time
	inflight  int

	now func() time.Time
}

// New creates a breaker in the CLOSED state.
func New(cfg *Config) *Breaker {
	return &Breaker{
		cfg:   cfg.withDefaults(),
		state: StateClosed,
		now:   time.Now,
	}
}

// Status is a point-in-time snapshot of breaker state.
type Status struct {
	State     State
	Failures  int
	Successes int
	Inflight  int
	OpenedAt  time.Time
}

// Status reports the breaker's current state and counters.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		State:     b.state,
		Failures:  b.failures,
		Successes: b.successes,
		Inflight:  b.inflight,
		OpenedAt:  b.openedAt,
	}
}

type callResult struct {
	value any
	err   error
}

// Execute runs fn under the breaker's admission, timeout and failure
// accounting rules. fn receives a context that is cancelled when the
// call times out or the caller's context ends.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	return b.ExecuteTimeout(ctx, 0, fn)
}

// ExecuteTimeout is Execute with a per-call timeout. A zero or negative
// timeout falls back to the configured default.
func (b *Breaker) ExecuteTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	if timeout <= 0 {
		timeout = b.cfg.Timeout
	}
	if err := b.admit(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	done := make(chan callResult, 1)
	go func() {
		value, err := fn(callCtx)
		b.release()
		done <- callResult{value: value, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			b.onFailure()
			return nil, res.err
		}
		b.onSuccess()
		return res.value, nil

	case <-timer.C:
		b.onFailure()
		return nil, spi.NewBreakerTimeout(timeout.Milliseconds())

	case <-ctx.Done():
		b.onFailure()
		return nil, spi.NewBackendError("call cancelled", ctx.Err())
	}
}

// admit decides whether a call may proceed and reserves an in-flight
// slot if so.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.HalfOpenAfter {
			return spi.NewCircuitOpen()
		}
		// First call after the open window becomes the probe.
		b.state = StateHalfOpen
		b.failures = 0
		b.successes = 0
	}

	if b.inflight >= b.cfg.MaxConcurrent {
		return spi.NewTooManyRequests(b.cfg.MaxConcurrent)
	}
	b.inflight++
	return nil
}

// release frees the in-flight slot once the underlying call settles.
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inflight > 0 {
		b.inflight--
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
	}
}
