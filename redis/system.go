package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/circleci/replay/system"
)

// Load creates a client for o and hands its lifecycle to sys. The client is
// closed on cleanup, pinged by the readiness check, and its connection pool is
// reported as gauges.
func Load(o Options, sys *system.System) *redis.Client {
	client := New(o)
	sys.AddCleanup(func(context.Context) error {
		return client.Close()
	})

	obs := NewObserver(o.name(), client)
	sys.AddHealthCheck(obs)
	sys.AddMetrics(obs)
	return client
}

// Observer reports the health and pool usage of a client.
type Observer struct {
	name   string
	client *redis.Client
}

func NewObserver(name string, client *redis.Client) *Observer {
	if name == "" {
		name = defaultName
	}
	return &Observer{name: name, client: client}
}

// HealthChecks makes the client a readiness dependency. A lost redis does not
// fail liveness, restarting the proxy would not bring it back.
func (o *Observer) HealthChecks() (string, func(ctx context.Context) error, func(ctx context.Context) error) {
	return o.name, o.ping, nil
}

func (o *Observer) ping(ctx context.Context) error {
	pong, err := o.client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if pong != "PONG" {
		return fmt.Errorf("unexpected response for redis ping: %q", pong)
	}
	return nil
}

func (o *Observer) MetricName() string {
	return o.name
}

func (o *Observer) Gauges(context.Context) map[string]float64 {
	s := o.client.PoolStats()
	return map[string]float64{
		"hits":              float64(s.Hits),
		"misses":            float64(s.Misses),
		"timeouts":          float64(s.Timeouts),
		"total_connections": float64(s.TotalConns),
		"idle_connections":  float64(s.IdleConns),
		"stale_connections": float64(s.StaleConns),
	}
}
