package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hellofresh/health-go/v4"

	"github.com/circleci/replay/httpserver/ginrouter"
	"github.com/circleci/replay/system"
)

const checkTimeout = 5 * time.Second

type API struct {
	router *gin.Engine
}

// New builds the admin API: /live and /ready backed by the checks of every
// component, and the runtime profiles under /debug/pprof.
func New(ctx context.Context, checked []system.HealthChecker) (*API, error) {
	live, ready, err := healthHandlers(checked)
	if err != nil {
		return nil, fmt.Errorf("failed to create health checks: %w", err)
	}

	r := ginrouter.Default(ctx, "admin")
	r.GET("/live", gin.WrapH(live.Handler()))
	r.GET("/ready", gin.WrapH(ready.Handler()))
	r.GET("/debug/pprof/*profile", profile)

	return &API{router: r}, nil
}

func (a *API) Handler() http.Handler {
	return a.router
}

// profiles that are not served by the pprof index
var profiles = map[string]http.HandlerFunc{
	"/cmdline": pprof.Cmdline,
	"/profile": pprof.Profile,
	"/symbol":  pprof.Symbol,
	"/trace":   pprof.Trace,
}

func profile(c *gin.Context) {
	if h, ok := profiles[c.Param("profile")]; ok {
		h(c.Writer, c.Request)
		return
	}
	// the index serves the named runtime profiles and 404s unknown ones
	pprof.Index(c.Writer, c.Request)
}

func healthHandlers(checked []system.HealthChecker) (live, ready *health.Health, err error) {
	if live, err = health.New(); err != nil {
		return nil, nil, err
	}
	if ready, err = health.New(); err != nil {
		return nil, nil, err
	}

	for _, c := range checked {
		name, readyCheck, liveCheck := c.HealthChecks()
		if err := register(ready, name, readyCheck); err != nil {
			return nil, nil, err
		}
		if err := register(live, name, liveCheck); err != nil {
			return nil, nil, err
		}
	}
	return live, ready, nil
}

func register(h *health.Health, name string, check func(context.Context) error) error {
	if check == nil {
		return nil
	}
	return h.Register(health.Config{
		Name:    name,
		Timeout: checkTimeout,
		Check:   check,
	})
}
