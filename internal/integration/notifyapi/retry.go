package notifyapi

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is an exponential backoff schedule: BaseDelay doubling per
// attempt, capped at MaxDelay, for at most MaxAttempts tries in total.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	// RetryHTTP retries temporary HTTP failures (5xx, 408, 429). Commands
	// leave this off because not every store guarantees idempotence.
	RetryHTTP bool
}

// DefaultReadPolicy retries reads up to 3 times, 1s doubling to 30s.
func DefaultReadPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 3, RetryHTTP: true}
}

// DefaultCommandPolicy retries commands up to 2 times, 1s doubling to 10s,
// on network and parse failures only.
func DefaultCommandPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxAttempts: 2}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

// Delays lists the waits between attempts, for logging and tests.
func (p RetryPolicy) Delays() []time.Duration {
	var out []time.Duration
	b := p.backOff()
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return out
		}
		out = append(out, d)
	}
}
