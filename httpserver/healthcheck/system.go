package healthcheck

import (
	"context"
	"fmt"

	"github.com/circleci/replay/httpserver"
	"github.com/circleci/replay/system"
)

// Load adds the admin server to sys. It must be called after every health checker
// has been added to sys.
func Load(ctx context.Context, addr string, sys *system.System) (*httpserver.HTTPServer, error) {
	healthAPI, err := New(ctx, sys.HealthChecks())
	if err != nil {
		return nil, fmt.Errorf("error creating health check API: %w", err)
	}

	return httpserver.Load(ctx, httpserver.Config{
		Name:    "admin",
		Addr:    addr,
		Handler: healthAPI.Handler(),
	}, sys)
}
