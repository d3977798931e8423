package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/circleci/replay/config/secret"
	"github.com/circleci/replay/redis"
)

type RedisConfig struct {
	redis.Options
	// Key holds the encoded fixture.
	Key string
	// MaxElapsedTime bounds the retries of a failed save, default 5s.
	MaxElapsedTime time.Duration
}

// Redis stores a fixture as a single redis string.
type Redis struct {
	client     *goredis.Client
	key        string
	maxElapsed time.Duration
	owned      bool
}

// NewRedis connects a new client, which Close closes.
func NewRedis(cfg RedisConfig) *Redis {
	r := NewRedisWithClient(redis.New(cfg.Options), cfg.Key, cfg.MaxElapsedTime)
	r.owned = true
	return r
}

// NewRedisWithClient stores under key using a shared client. Close leaves the
// client open.

func NewRedisWithClient(client *goredis.Client, key string, maxElapsed time.Duration) *Redis {
	if maxElapsed == 0 {
		maxElapsed = 5 * time.Second
	}
	return &Redis{client: client, key: key, maxElapsed: maxElapsed}
}

// Client exposes the underlying client, for health checks.
func (r *Redis) Client() *goredis.Client {
	return r.client
}

func (r *Redis) String() string {
	return fmt.Sprintf("redis://%s/%d?key=%s", r.client.Options().Addr, r.client.Options().DB, r.key)
}

func (r *Redis) Load(ctx context.Context) ([]byte, error) {
	b, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r, err)
	}
	return b, nil
}

func (r *Redis) Save(ctx context.Context, b []byte) error {
	return retry(ctx, "storage: redis save", r.maxElapsed, func() error {
		if err := r.client.Set(ctx, r.key, b, 0).Err(); err != nil {
			return fmt.Errorf("set %s: %w", r, err)
		}
		return nil
	})
}

func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

// RedisConfigFromLocation parses a redis:// or rediss:// location as accepted by Open.
func RedisConfigFromLocation(location string) (RedisConfig, error) {
	u, err := url.Parse(location)
	if err != nil {
		return RedisConfig{}, fmt.Errorf("storage: invalid location %q: %w", location, err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return RedisConfig{}, fmt.Errorf("storage: not a redis location %q", location)
	}
	return redisConfigFromURL(u)
}

// redisConfigFromURL reads redis[s]://[user:password@]host[:port][/db]?key=name
func redisConfigFromURL(u *url.URL) (RedisConfig, error) {
	cfg := RedisConfig{
		Options: redis.Options{
			Host: u.Hostname(),
			Port: 6379,
			TLS:  u.Scheme == "rediss",
		},
		Key: u.Query().Get("key"),
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return RedisConfig{}, fmt.Errorf("storage: invalid redis port %q", p)
		}
		cfg.Port = port
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return RedisConfig{}, fmt.Errorf("storage: invalid redis db %q", db)
		}
		cfg.DB = n
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		pw, _ := u.User.Password()
		cfg.Password = secret.String(pw)
	}
	if cfg.Key == "" {
		return RedisConfig{}, fmt.Errorf("storage: redis location needs a key: %q",
			"redis://"+net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	}
	return cfg, nil
}
