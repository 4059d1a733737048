// Package resilience provides the retry executor, circuit breaker, and
// recovery-level classifier used around browser and network operations.
package resilience

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"
)

// Policy is immutable retry configuration, shared by reference across
// invocations.
type Policy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Jitter          bool
	RetryableErrors []string
}

// DefaultPolicy matches the transient failures the browser layer is known to
// produce.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
		RetryableErrors: []string{
			"timeout",
			"network",
			"navigation",
			"detached",
			"crashed",
			"disconnected",
			"protocol error",
			"target closed",
			"connection reset",
		},
	}
}

// Result records the outcome of a retried operation.
type Result struct {
	Err        error
	Attempts   int
	TotalDelay time.Duration
}

// Succeeded reports whether the operation eventually completed.
func (r Result) Succeeded() bool { return r.Err == nil }

// Executor retries operations with exponential backoff and optional jitter.
// The sleep function is injectable so backoff behaviour is testable against a
// virtual clock.
type Executor struct {
	policy Policy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	rand   *rand.Rand
}

// NewExecutor builds an executor for the given policy.
func NewExecutor(policy Policy, logger *slog.Logger) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		policy: policy,
		logger: logger,
		sleep:  sleepCtx,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do runs fn up to MaxAttempts times. A non-retryable error or the final
// attempt returns immediately; otherwise the executor backs off and retries.
func (e *Executor) Do(ctx context.Context, label string, fn func(ctx context.Context) error) Result {
	var res Result
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		res.Attempts = attempt
		err := fn(ctx)
		if err == nil {
			res.Err = nil
			return res
		}
		res.Err = err

		if !e.Retryable(err) || attempt == e.policy.MaxAttempts {
			return res
		}

		delay := e.Delay(attempt)
		e.logger.Warn("operation failed, retrying",
			"op", label, "attempt", attempt, "delay", delay.String(), "error", err)
		res.TotalDelay += delay
		if serr := e.sleep(ctx, delay); serr != nil {
			res.Err = serr
			return res
		}
	}
	return res
}

// Retryable classifies err by case-insensitive substring match against the
// policy's known-transient error set.
func (e *Executor) Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range e.policy.RetryableErrors {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// Delay computes the backoff before the attempt+1'th try:
// min(base * 2^(attempt-1), max), scaled by a uniform factor in [0.5, 1.0]
// when jitter is enabled.
func (e *Executor) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := e.policy.BaseDelay << uint(attempt-1)
	if e.policy.MaxDelay > 0 && delay > e.policy.MaxDelay {
		delay = e.policy.MaxDelay
	}
	if delay < 0 {
		delay = e.policy.MaxDelay
	}
	if e.policy.Jitter {
		factor := 0.5 + 0.5*e.rand.Float64()
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
