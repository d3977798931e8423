package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/circleci/replay/o11y"
)

// retry runs op with exponential backoff until it succeeds, returns a
// backoff.Permanent error, maxElapsed passes or ctx is done.
func retry(ctx context.Context, name string, maxElapsed time.Duration, op func() error) error {
	attempts := 0
	attempt := func() error {
		attempts++
		return op()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Millisecond * 50
	bo.MaxElapsedTime = maxElapsed
	err := backoff.RetryNotify(attempt, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		o11y.Log(ctx, name+": retrying",
			o11y.Field("attempt", attempts),
			o11y.Field("backoff_ms", next.Milliseconds()),
			o11y.Field("error", err),
		)
	})
	return err
}
