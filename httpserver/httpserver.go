package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/circleci/replay/o11y"
	"github.com/circleci/replay/system"
)

type Config struct {
	// Name identifies the server in traces and metrics.
	Name    string
	Addr    string
	Handler http.Handler

	// Network is any network accepted by net.Listen, tcp when empty.
	Network string
	// ReadTimeout and WriteTimeout default to 55 seconds. The proxy waits on the
	// upstream within the write timeout, so slow upstreams may need more.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ShutdownTimeout bounds how long in flight requests get to finish on
	// shutdown, 10 seconds by default.
	ShutdownTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Network == "" {
		c.Network = "tcp"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 55 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 55 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

type HTTPServer struct {
	listener *trackedListener
	server   *http.Server
	shutdown time.Duration
}

// New listens on the configured address. Requests are not served until Serve.
func New(ctx context.Context, cfg Config) (s *HTTPServer, err error) {
	_, span := o11y.StartSpan(ctx, "httpserver: new "+cfg.Name)
	defer o11y.End(span, &err)

	cfg.setDefaults()
	span.AddField("server_name", cfg.Name)
	span.AddField("network", cfg.Network)

	ln, err := net.Listen(cfg.Network, cfg.Addr)
	if err != nil {
		return nil, err
	}
	span.AddField("address", ln.Addr().String())

	return &HTTPServer{
		listener: &trackedListener{Listener: ln, name: cfg.Name},
		shutdown: cfg.ShutdownTimeout,
		server: &http.Server{
			Handler:           cfg.Handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
	}, nil
}

// Serve serves requests until ctx is done, then shuts down, giving in flight
// requests up to the shutdown timeout to finish.
func (s *HTTPServer) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		if err := s.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.server.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}

// MetricsProducer reports the connections of the server.
func (s *HTTPServer) MetricsProducer() system.MetricProducer {
	return s.listener
}

// Addr is the address the server listens on, with the real port when the
// configured one was 0.
func (s *HTTPServer) Addr() string {
	return s.listener.Addr().String()
}
