// Package recontext detaches work from the cancellation of the request that
// started it, such as saving a recording after the client has gone away.
// Context values, like the o11y provider and the active span, are kept.
package recontext

import (
	"context"
	"time"
)

// WithNewTimeout returns a context holding the values of parent but none of its
// cancellation or deadline. The timeout is mandatory so detached work can not
// run forever.
func WithNewTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(detached{parent}, timeout)
}

// detached is only ever handed out wrapped by a standard library context.
type detached struct{ context.Context }

func (detached) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detached) Done() <-chan struct{}       { return nil }
func (detached) Err() error                  { return nil }
