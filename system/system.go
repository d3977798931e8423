package system

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/circleci/replay/o11y"
	"github.com/circleci/replay/termination"
)

type HealthChecker interface {
	// HealthChecks returns the name of the checked component and its readiness
	// and liveness checks, either of which may be nil.
	HealthChecks() (name string, ready, live func(ctx context.Context) error)
}

type System struct {
	services  []func(context.Context) error
	checks    []HealthChecker
	producers []MetricProducer
	cleanups  []func(context.Context) error

	gaugeInterval time.Duration
	terminated    func(ctx context.Context, delay time.Duration) error
}

func New() *System {
	return &System{
		gaugeInterval: 10 * time.Second,
		terminated:    termination.Handle,
	}
}

func (s *System) AddService(svc func(ctx context.Context) error) {
	s.services = append(s.services, svc)
}

func (s *System) AddHealthCheck(h HealthChecker) {
	s.checks = append(s.checks, h)
}

func (s *System) AddMetrics(m MetricProducer) {
	s.producers = append(s.producers, m)
}

func (s *System) AddCleanup(c func(ctx context.Context) error) {
	s.cleanups = append(s.cleanups, c)
}

func (s *System) HealthChecks() []HealthChecker {
	return s.checks
}

// Run blocks until a service fails or the process is asked to stop. A stop
// request returns termination.ErrTerminated after delay, giving load balancers
// time to notice the proxy going away while in-flight requests finish.
func (s *System) Run(ctx context.Context, delay time.Duration) (err error) {
	ctx, span := o11y.StartSpan(ctx, "system: run")
	defer o11y.End(span, &err)
	span.RecordMetric(o11y.Timing("system.run", "result"))
	span.AddField("services", len(s.services))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.terminated(ctx, delay)
	})
	for _, svc := range s.services {
		svc := svc
		g.Go(func() error {
			return svc(ctx)
		})
	}
	if len(s.producers) > 0 {
		g.Go(func() error {
			reportGauges(ctx, s.gaugeInterval, s.producers)
			return nil
		})
	}
	return g.Wait()
}

// Cleanup runs the cleanups newest first. Failures are logged and do not stop
// later cleanups.
func (s *System) Cleanup(ctx context.Context) {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		if err := s.cleanups[i](ctx); err != nil {
			o11y.LogError(ctx, "system: cleanup failed", err)
		}
	}
}
