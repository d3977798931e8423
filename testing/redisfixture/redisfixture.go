// Package redisfixture provides a redis client for tests, backed by an in-process
// miniredis server unless an address is supplied.
package redisfixture

import (
	"context"
	"hash/fnv"
	"net"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"gotest.tools/v3/assert"

	"github.com/circleci/replay/o11y"
)

type Fixture struct {
	*redis.Client
	Addr string
	Host string
	Port int
	DB   int

	// Server is nil when the fixture points at an external redis.
	Server *miniredis.Miniredis
}

type Connection struct {
	// Addr of an external redis, if empty an in-process server is started.
	Addr string
}

func Setup(ctx context.Context, t testing.TB, con Connection) *Fixture {
	t.Helper()
	ctx, span := o11y.StartSpan(ctx, "redisfixture: setup")
	defer span.End()

	fix := &Fixture{Addr: con.Addr}
	if fix.Addr == "" {
		fix.Server = miniredis.NewMiniRedis()
		assert.Assert(t, fix.Server.Start())
		t.Cleanup(fix.Server.Close)
		fix.Addr = fix.Server.Addr()
	} else {
		// Tests for different go packages are run in parallel by the go test runtime, so
		// we try and use a unique DB for each test.
		fix.DB = hash(t.Name(), 16)
	}
	host, port, err := net.SplitHostPort(fix.Addr)
	assert.Assert(t, err)
	fix.Host = host
	fix.Port, err = strconv.Atoi(port)
	assert.Assert(t, err)
	span.AddField("addr", fix.Addr)
	span.AddField("db", fix.DB)

	fix.Client = redis.NewClient(&redis.Options{
		Addr: fix.Addr,
		DB:   fix.DB,
	})
	t.Cleanup(func() {
		assert.Check(t, fix.Client.Close())
	})

	if err := fix.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available")
	}

	assert.Assert(t, fix.FlushDB(ctx).Err())

	return fix
}

func hash(s string, databaseCount uint32) int {
	h := fnv.New32()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % databaseCount)
}
