package httpserver

import (
	"context"
	"fmt"

	"github.com/circleci/replay/system"
)

// Load starts listening on cfg.Addr and adds the server to sys, which serves it
// and reports its connection gauges. Listening happens here so that a bad
// address fails startup rather than the running system.
func Load(ctx context.Context, cfg Config, sys *system.System) (*HTTPServer, error) {
	s, err := New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error starting %q server: %w", cfg.Name, err)
	}
	sys.AddService(s.Serve)
	sys.AddMetrics(s.MetricsProducer())
	return s, nil
}
