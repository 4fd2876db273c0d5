// internal/retry/retry.go
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	// DefaultMaxTries is the ceiling used for ledger writes (create/extend/close).
	DefaultMaxTries uint = 5
	// DefaultInterval is the fixed pause between two attempts.
	DefaultInterval = time.Second
)

// Policy describes a fixed-interval retry: no growth between attempts.
type Policy struct {
	MaxTries uint
	Interval time.Duration
	// Name is attached to retry log lines.
	Name   string
	Logger *zap.Logger
}

// DefaultPolicy returns the policy used by ledger writes.
func DefaultPolicy(name string, logger *zap.Logger) Policy {
	return Policy{
		MaxTries: DefaultMaxTries,
		Interval: DefaultInterval,
		Name:     name,
		Logger:   logger,
	}
}

// Do runs op until it succeeds, returns a permanent error, the context is done
// or MaxTries attempts have been made. The last error is returned on exhaustion.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	tries := p.MaxTries
	if tries == 0 {
		tries = DefaultMaxTries
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		return op()
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Interval)),
		backoff.WithMaxTries(tries),
		// the elapsed-time cap would cut the ceiling short for slow RPCs
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Warn("retrying",
				zap.String("operation", p.Name),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", d),
				zap.Error(err))
		}),
	)
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func() error) error {
	_, err := Do(ctx, p, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
