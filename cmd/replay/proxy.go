package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/circleci/replay/fingerprint"
	"github.com/circleci/replay/httpserver"
	"github.com/circleci/replay/httpserver/healthcheck"
	"github.com/circleci/replay/normalize"
	"github.com/circleci/replay/o11y"
	"github.com/circleci/replay/proxy"
	"github.com/circleci/replay/redis"
	"github.com/circleci/replay/storage"
	"github.com/circleci/replay/system"
	"github.com/circleci/replay/transport"
)

type proxyCmd struct {
	ShutdownDelay time.Duration `env:"SHUTDOWN_DELAY" default:"5s" help:"Delay shutdown by this amount" hidden:""`
	Addr          string        `env:"REPLAY_ADDR" default:":8080" help:"The address for the proxy to listen on"`
	AdminAddr     string        `env:"ADMIN_ADDR" default:":8081" help:"The address for the admin api to listen on"`

	Target         string `env:"REPLAY_TARGET" required:"" help:"Base URL of the upstream"`
	Location       string `env:"REPLAY_LOCATION" default:"fixtures/{fixture}.json" help:"Where fixtures are kept, {fixture} is replaced by the X-Replay-Fixture header"`
	DefaultFixture string `env:"REPLAY_DEFAULT_FIXTURE" default:"default" help:"Fixture used for requests without the header"`
	Mode           string `env:"REPLAY_MODE" enum:"record-if-missing,replay-only,passthrough" default:"record-if-missing" help:"One of record-if-missing, replay-only or passthrough"`

	IgnoreQuery         []string `name:"ignore-query" env:"REPLAY_IGNORE_QUERY" help:"Query parameters left out of fingerprints"`
	IgnoreHeaders       []string `name:"ignore-header" env:"REPLAY_IGNORE_HEADERS" help:"Request headers left out of fingerprints"`
	KeepVolatileHeaders bool     `env:"REPLAY_KEEP_VOLATILE_HEADERS" help:"Fingerprint headers such as Date and User-Agent too"`
	SortBody            bool     `env:"REPLAY_SORT_BODY" help:"Compare request bodies ignoring character order"`

	CacheSize       int           `env:"REPLAY_CACHE_SIZE" default:"128" help:"Fixtures kept open at once"`
	UpstreamTimeout time.Duration `env:"REPLAY_UPSTREAM_TIMEOUT" default:"55s" help:"Wait this long for upstream response headers"`
	WriteTimeout    time.Duration `env:"REPLAY_WRITE_TIMEOUT" default:"2m" help:"Write timeout of the proxy server"`
}

func (c proxyCmd) keys() fingerprint.Keys {
	var keys fingerprint.Keys
	if len(c.IgnoreQuery) > 0 {
		keys.URL = normalize.FilterQueryParamsKey(c.IgnoreQuery...)
	}
	ignored := append([]string(nil), c.IgnoreHeaders...)
	if !c.KeepVolatileHeaders {
		ignored = append(ignored, normalize.DefaultVolatileHeaders...)
	}
	if len(ignored) > 0 {
		keys.Headers = normalize.FilterHeadersKey(ignored...)
	}
	if c.SortBody {
		keys.Body = normalize.SortStringKey()
	}
	return keys
}

func (c proxyCmd) run(ctx context.Context) (err error) {
	ctx, runSpan := o11y.StartSpan(ctx, "main: proxy")
	defer o11y.End(runSpan, &err)

	mode, err := transport.ParseMode(c.Mode)
	if err != nil {
		return err
	}

	o11y.Log(ctx, "starting replay proxy",
		o11y.Field("version", Version),
		o11y.Field("date", Date),
		o11y.Field("target", c.Target),
		o11y.Field("location", c.Location),
		o11y.Field("mode", mode.String()),
	)

	sys := system.New()
	defer sys.Cleanup(ctx)

	err = loadProxy(ctx, c, mode, sys)
	if err != nil {
		return err
	}

	// Should be last so it collects all the health checks
	_, err = healthcheck.Load(ctx, c.AdminAddr, sys)
	if err != nil {
		return err
	}

	return sys.Run(ctx, c.ShutdownDelay)
}

func loadProxy(ctx context.Context, c proxyCmd, mode transport.Mode, sys *system.System) error {
	open, err := fixtureStores(c.Location, sys)
	if err != nil {
		return err
	}

	upstream := http.DefaultTransport.(*http.Transport).Clone()
	upstream.ResponseHeaderTimeout = c.UpstreamTimeout

	p, err := proxy.New(ctx, proxy.Config{
		Target:         c.Target,
		Location:       c.Location,
		DefaultFixture: c.DefaultFixture,
		Mode:           mode,
		Keys:           c.keys(),
		CacheSize:      c.CacheSize,
		Upstream:       upstream,
		Open:           open,
	})
	if err != nil {
		return err
	}
	sys.AddCleanup(func(_ context.Context) error {
		return p.Close()
	})
	sys.AddMetrics(p)

	_, err = httpserver.Load(ctx, httpserver.Config{
		Name:         "proxy",
		Addr:         c.Addr,
		Handler:      p.Handler(),
		WriteTimeout: c.WriteTimeout,
	}, sys)
	return err
}

// fixtureStores returns how the proxy opens fixtures at location. Redis fixtures
// share one client, which is health checked and closed with the system.
func fixtureStores(location string, sys *system.System) (func(context.Context, string) (storage.Store, error), error) {
	if !strings.HasPrefix(location, "redis://") && !strings.HasPrefix(location, "rediss://") {
		return storage.Open, nil
	}

	cfg, err := storage.RedisConfigFromLocation(location)
	if err != nil {
		return nil, err
	}
	cfg.Name = "fixtures"
	client := redis.Load(cfg.Options, sys)

	return func(_ context.Context, location string) (storage.Store, error) {
		cfg, err := storage.RedisConfigFromLocation(location)
		if err != nil {
			return nil, err
		}
		return storage.NewRedisWithClient(client, cfg.Key, cfg.MaxElapsedTime), nil
	}, nil
}
