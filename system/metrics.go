package system

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/circleci/replay/o11y"
	"github.com/circleci/replay/worker"
)

type MetricProducer interface {
	// MetricName prefixes every gauge of the producer.
	MetricName() string
	// Gauges returns the current value of each gauge by name.
	Gauges(context.Context) map[string]float64
}

// reportGauges publishes every producer's gauges each interval until ctx is done.
func reportGauges(ctx context.Context, interval time.Duration, producers []MetricProducer) {
	worker.Run(ctx, worker.Config{
		Name:          "gauges",
		MaxWorkTime:   time.Second,
		NoWorkBackOff: backoff.NewConstantBackOff(interval),
		WorkFunc: func(ctx context.Context) error {
			publishGauges(ctx, producers)
			return worker.ErrShouldBackoff
		},
	})
}

func publishGauges(ctx context.Context, producers []MetricProducer) {
	mp := o11y.FromContext(ctx).MetricsProvider()
	if mp == nil {
		return
	}
	for _, p := range producers {
		prefix := "gauge." + strings.ReplaceAll(p.MetricName(), "-", "_") + "."
		for name, v := range p.Gauges(ctx) {
			_ = mp.Gauge(prefix+name, v, []string{}, 1)
		}
	}
}
