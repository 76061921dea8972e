package completion

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig shapes the exponential backoff applied to completion calls.
type RetryConfig struct {
	InitialInterval     time.Duration // delay before the first retry
	MaxInterval         time.Duration // ceiling a single delay can grow to
	MaxElapsedTime      time.Duration // total budget across all retries
	Multiplier          float64       // growth factor between delays
	RandomizationFactor float64       // jitter applied to each delay
}

// DefaultRetryConfig returns retry settings sized for a CLI completion
// tool: quick first retry, and give up after three minutes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     200 * time.Millisecond,
		MaxInterval:         15 * time.Second,
		MaxElapsedTime:      3 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.3,
	}
}

// BreakerRegistry manages per-role circuit breakers so a flapping completion
// service for one role doesn't take out the others.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates an empty breaker registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the given key, creating it on first use.
func (r *BreakerRegistry) Get(key string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 2,
		Interval:    0,
		// Trip after four failures in a row; probe again after 45s.
		Timeout: 45 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 4
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("completion breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// A caller walking away says nothing about service health.
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[key] = cb
	return cb
}

// ResilientCompleter wraps a Completer with exponential-backoff retry and
// per-role circuit breaker protection.
type ResilientCompleter struct {
	inner    Completer
	breakers *BreakerRegistry
	retry    RetryConfig
}

// NewResilientCompleter wraps the given completer.
func NewResilientCompleter(inner Completer, retry RetryConfig) *ResilientCompleter {
	return &ResilientCompleter{
		inner:    inner,
		breakers: NewBreakerRegistry(),
		retry:    retry,
	}
}

// Complete implements Completer with retry and circuit breaking.
func (r *ResilientCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	cb := r.breakers.Get(string(req.Role))

	var resp Response
	operation := func() error {
		// Fail fast if the caller is gone
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return r.inner.Complete(ctx, req)
		})
		if err != nil {
			// Open circuit: retrying immediately is pointless
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		resp = result.(Response)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retry.InitialInterval
	policy.MaxInterval = r.retry.MaxInterval
	policy.MaxElapsedTime = r.retry.MaxElapsedTime
	policy.Multiplier = r.retry.Multiplier
	policy.RandomizationFactor = r.retry.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return resp, err
}
