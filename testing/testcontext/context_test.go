package testcontext

import (
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/circleci/replay/o11y"
)

func TestBackground(t *testing.T) {
	ctx := Background()
	assert.Check(t, cmp.Equal(ctx, Background()), "the context is shared")
	assert.Check(t, ctx.Err())

	ctx, span := o11y.StartSpan(ctx, "testcontext: span")
	span.AddField("fixture", "items")
	span.End()
	assert.Check(t, o11y.FromContext(ctx).GetSpan(ctx) != nil)

	assert.Check(t, o11y.FromContext(ctx).MetricsProvider().Gauge("fixtures", 1, nil, 1))
}
