// Package testcontext gives tests a context carrying a text o11y provider, so
// spans from the code under test show up in the test output.
package testcontext

import (
	"context"

	"github.com/circleci/replay/config/o11y"
)

// the honeycomb provider initialises a process wide beeline, so the context is
// built once at package init rather than per test
var background = func() context.Context {
	ctx, _, err := o11y.Setup(context.Background(), o11y.Config{
		Format:  "text",
		Service: "replay",
		Version: "test",
	})
	if err != nil {
		panic(err)
	}
	return ctx
}()

// Background returns the shared test context. It is never cancelled.
func Background() context.Context {
	return background
}
