// Package ginrouter builds the gin engines behind the proxy and admin servers.
package ginrouter

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/circleci/replay/o11y"
	"github.com/circleci/replay/o11y/wrappers/o11ygin"
)

var releaseMode sync.Once

// Default returns a gin engine with no routes. Every request is traced against
// the provider in ctx. Panics become 500s and requests abandoned by the client
// are recorded as 499s.
func Default(ctx context.Context, serverName string) *gin.Engine {
	releaseMode.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	r := gin.New()
	r.UseRawPath = true
	r.Use(
		o11ygin.Middleware(o11y.FromContext(ctx), serverName),
		o11ygin.Recovery(),
		o11ygin.ClientCancelled(),
	)
	return r
}
