package redisfixture

import (
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/circleci/replay/testing/testcontext"
)

func TestSetup(t *testing.T) {
	ctx := testcontext.Background()
	fix := Setup(ctx, t, Connection{})
	assert.Check(t, fix.Ping(ctx).Err())
	assert.Check(t, fix.Server != nil)

	assert.Assert(t, fix.Set(ctx, "fixture", "[]", 0).Err())
	v, err := fix.Server.Get("fixture")
	assert.Assert(t, err)
	assert.Check(t, cmp.Equal(v, "[]"))
}

func TestSetupAgainIsEmpty(t *testing.T) {
	ctx := testcontext.Background()
	fix := Setup(ctx, t, Connection{})
	n, err := fix.Exists(ctx, "fixture").Result()
	assert.Assert(t, err)
	assert.Check(t, cmp.Equal(n, int64(0)))
}
