package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/circleci/replay/o11y"
)

// ErrShouldBackoff is returned by a WorkFunc that found nothing to do.
var ErrShouldBackoff = errors.New("should back off")

type Config struct {
	Name string
	// NoWorkBackOff paces the loop after ErrShouldBackoff, default exponential up to 5s.
	NoWorkBackOff backoff.BackOff
	// MaxWorkTime bounds each call of WorkFunc, default 10s.
	MaxWorkTime time.Duration
	WorkFunc    func(ctx context.Context) error

	waiter func(ctx context.Context, delay time.Duration)
}

// Run calls WorkFunc in a loop until ctx is done. Each call gets its own span
// and a context carrying the provider of ctx but not its cancellation.
func Run(ctx context.Context, cfg Config) {
	cfg = setDefaults(cfg)
	cfg.NoWorkBackOff.Reset()
	provider := o11y.FromContext(ctx)

	for ctx.Err() == nil {
		wait := doWork(provider, cfg)
		if wait < 0 {
			cfg.NoWorkBackOff.Reset()
			continue
		}
		cfg.waiter(ctx, wait)
	}
}

func setDefaults(cfg Config) Config {
	if cfg.waiter == nil {
		cfg.waiter = wait
	}
	if cfg.NoWorkBackOff == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 50 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		b.MaxElapsedTime = 0
		cfg.NoWorkBackOff = b
	}
	if cfg.MaxWorkTime == 0 {
		cfg.MaxWorkTime = 10 * time.Second
	}
	return cfg
}

func wait(ctx context.Context, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// doWork returns how long to wait before the next call, negative for no wait.
func doWork(provider o11y.Provider, cfg Config) (wait time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.MaxWorkTime)
	defer cancel()

	ctx = o11y.WithProvider(ctx, provider)
	ctx, span := provider.StartSpan(ctx, "worker loop: "+cfg.Name)
	span.RecordMetric(o11y.Timing("worker_loop", "loop_name", "result"))
	span.AddRawField("loop_name", cfg.Name)
	var err error
	defer o11y.End(span, &err)

	// a panicking WorkFunc fails this cycle only
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker loop %q panicked: %v", cfg.Name, r)
			span.AddRawField("panic", true)
			wait = -1
		}
	}()

	wait = -1
	err = cfg.WorkFunc(ctx)
	if errors.Is(err, ErrShouldBackoff) {
		wait = cfg.NoWorkBackOff.NextBackOff()
		err = nil
	}

	span.AddField("backoff_ms", wait.Milliseconds())
	return wait
}
