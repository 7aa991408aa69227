// Package retry wraps a single fleet operation in retry-with-backoff:
// transient transport failures are retried with exponential backoff capped
// at a maximum delay, every other failure returns immediately. Built on
// github.com/sethvargo/go-retry, whose RetryableError split matches that
// contract directly.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"biopatrol/internal/robotrpc"
	"biopatrol/pkg/apperror"
	"biopatrol/pkg/logger"
	"biopatrol/pkg/metrics"
)

// Operation is a single zero-arg Fleet Gateway call. It returns the Fleet's
// normalized Result alongside a transport-level error, matching every method
// on fleet.Gateway.
type Operation func(ctx context.Context) (*robotrpc.Result, error)

// Config bounds a wrapped Operation's attempts and backoff shape.
type Config struct {
	MaxRetries int           // total calls on persistent failure = MaxRetries+1
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Wrap returns an Operation that retries op on transient transport failures
// only (apperror.IsTransient), sleeping min(base_delay*2^n, max_delay)
// between attempts. Any other failure, including a success-shaped Result
// carrying a robot domain error_code, is returned immediately without retry
// — the Fleet already normalized domain errors into Result.ErrorCode, so
// they never reach op's error return in the first place. name labels the
// metrics recorded for each retry attempt.
func Wrap(name string, cfg Config, op Operation) Operation {
	return func(ctx context.Context) (*robotrpc.Result, error) {
		backoff := goretry.WithCappedDuration(cfg.MaxDelay, goretry.NewExponential(cfg.BaseDelay))
		backoff = goretry.WithMaxRetries(uint64(cfg.MaxRetries), backoff)

		attempt := 0
		var result *robotrpc.Result

		err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
			attempt++
			res, opErr := op(ctx)
			if opErr != nil {
				if apperror.IsTransient(opErr) {
					if attempt > 1 {
						if m := metrics.Get(); m != nil {
							m.RecordRetry(name)
						}
					}
					logger.Log.Debug("retrying transient fleet operation",
						"operation", name, "attempt", attempt, "error", opErr)
					return goretry.RetryableError(opErr)
				}
				return opErr
			}
			result = res
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}
