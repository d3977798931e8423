package redis

import (
	"crypto/x509"
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/circleci/replay/testing/testcontext"
)

func serverOptions(t *testing.T, srv *miniredis.Miniredis) Options {
	t.Helper()
	host, p, err := net.SplitHostPort(srv.Addr())
	assert.Assert(t, err)
	port, err := strconv.Atoi(p)
	assert.Assert(t, err)
	return Options{Host: host, Port: port}
}

func TestNew_SeparatesDatabases(t *testing.T) {
	ctx := testcontext.Background()
	o := serverOptions(t, miniredis.RunT(t))

	o.DB = 1
	fixtures := New(o)
	defer fixtures.Close()
	o.DB = 2
	other := New(o)
	defer other.Close()

	assert.Assert(t, fixtures.Set(ctx, "replay:items", "[]", 0).Err())
	got, err := fixtures.Get(ctx, "replay:items").Result()
	assert.Assert(t, err)
	assert.Check(t, cmp.Equal(got, "[]"))

	err = other.Get(ctx, "replay:items").Err()
	assert.Check(t, errors.Is(err, redis.Nil))
}

func TestNew_Password(t *testing.T) {
	ctx := testcontext.Background()
	srv := miniredis.RunT(t)
	srv.RequireAuth("hunter2")

	o := serverOptions(t, srv)
	anon := New(o)
	defer anon.Close()
	assert.Check(t, cmp.ErrorContains(anon.Ping(ctx).Err(), "NOAUTH"))

	o.Password = "hunter2"
	authed := New(o)
	defer authed.Close()
	assert.Check(t, authed.Ping(ctx).Err())
}

func TestNew_TLS(t *testing.T) {
	t.Run("bundled roots by default", func(t *testing.T) {
		client := New(Options{Host: "cache.example.com", Port: 6380, TLS: true})
		defer client.Close()

		tc := client.Options().TLSConfig
		assert.Assert(t, tc != nil)
		assert.Check(t, cmp.Equal(tc.ServerName, "cache.example.com"))
		assert.Check(t, tc.RootCAs != nil)
	})

	t.Run("custom roots", func(t *testing.T) {
		pool := x509.NewCertPool()
		client := New(Options{Host: "cache.example.com", Port: 6380, TLS: true,
			CAFunc: func() *x509.CertPool { return pool }})
		defer client.Close()
		assert.Check(t, client.Options().TLSConfig.RootCAs == pool)
	})

	t.Run("plain text", func(t *testing.T) {
		client := New(Options{Host: "localhost", Port: 6379})
		defer client.Close()
		assert.Check(t, client.Options().TLSConfig == nil)
	})
}
