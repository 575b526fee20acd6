package notifsync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryAPICall runs fn up to retries times in total, waiting delay between
// attempts. The last error is returned when every attempt fails. A
// backoff.Permanent error stops immediately.
func RetryAPICall[T any](ctx context.Context, fn func(context.Context) (T, error), retries int, delay time.Duration) (T, error) {
	if retries < 1 {
		retries = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(retries-1)),
		ctx,
	)
	return backoff.RetryWithData(func() (T, error) {
		return fn(ctx)
	}, policy)
}

// DelayedRefresh runs fn once after delay so the server has committed before
// the client re-reads. Errors are logged and dropped. The returned channel
// closes once fn has returned or ctx ended first.
func DelayedRefresh(ctx context.Context, fn func(context.Context) error, delay time.Duration, logger *zap.Logger) <-chan struct{} {
	if logger == nil {
		logger = zap.NewNop()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := fn(ctx); err != nil {
			logger.Warn("delayed refresh failed", zap.Error(err))
		}
	}()
	return done
}
