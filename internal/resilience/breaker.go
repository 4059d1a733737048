package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls. It always
// propagates immediately and never consumes a retry attempt.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the circuit breaker's position.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerSettings configures failure thresholds and recovery probing.
type BreakerSettings struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
	HalfOpenMax      int

	// OnStateChange, when set, is invoked outside the breaker lock after each
	// transition.
	OnStateChange func(from, to BreakerState)
}

// Breaker is a Closed/Open/HalfOpen fault isolator. Counters are mutated only
// inside Do.
type Breaker struct {
	settings BreakerSettings
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	totalCalls  int
	halfOpenIn  int
	lastFailure time.Time
	lastSuccess time.Time
	nextRetry   time.Time
}

// NewBreaker constructs a closed breaker.
func NewBreaker(settings BreakerSettings, logger *slog.Logger) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 2
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = 30 * time.Second
	}
	if settings.HalfOpenMax <= 0 {
		settings.HalfOpenMax = settings.SuccessThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		settings: settings,
		logger:   logger,
		now:      time.Now,
		state:    StateClosed,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns failure count, success count, and total calls.
func (b *Breaker) Counts() (failures, successes, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures, b.successes, b.totalCalls
}

// Do executes fn under the breaker. While Open it rejects immediately with
// ErrCircuitOpen unless the reset timeout has elapsed, in which case it moves
// to HalfOpen and admits a bounded number of trial calls.
func (b *Breaker) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}

	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Before(b.nextRetry) {
			return ErrCircuitOpen
		}
		b.transitionLocked(StateHalfOpen)
		b.halfOpenIn = 1
		return nil
	case StateHalfOpen:
		if b.halfOpenIn >= b.settings.HalfOpenMax {
			return ErrCircuitOpen
		}
		b.halfOpenIn++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalCalls++

	if b.state == StateHalfOpen {
		b.halfOpenIn--
		if b.halfOpenIn < 0 {
			b.halfOpenIn = 0
		}
	}

	if err != nil {
		b.failures++
		b.successes = 0
		b.lastFailure = b.now()
		switch b.state {
		case StateHalfOpen:
			// A single half-open failure re-opens immediately.
			b.openLocked()
		case StateClosed:
			if b.failures >= b.settings.FailureThreshold {
				b.openLocked()
			}
		}
		return
	}

	b.lastSuccess = b.now()
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.failures = 0
			b.successes = 0
			b.halfOpenIn = 0
			b.transitionLocked(StateClosed)
		}
		return
	}
	b.failures = 0
}

func (b *Breaker) openLocked() {
	b.nextRetry = b.now().Add(b.settings.ResetTimeout)
	b.transitionLocked(StateOpen)
}

func (b *Breaker) transitionLocked(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.logger.Info("circuit breaker state change", "from", string(from), "to", string(to))
	if cb := b.settings.OnStateChange; cb != nil {
		go cb(from, to)
	}
}
