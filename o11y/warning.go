package o11y

import (
	"context"
	"errors"
)

// NewWarning returns an error that is traced as a warning rather than as a
// failure. It suits errors that are expected and handled, such as a fixture that
// has not been recorded yet. Two warnings are never equal under errors.Is, even
// with the same message.
func NewWarning(msg string) error {
	return &warning{msg: msg}
}

type warning struct {
	msg string
}

func (w *warning) Error() string {
	return w.msg
}

// IsWarning reports whether any error in the chain of err is a warning.
func IsWarning(err error) bool {
	var w *warning
	return errors.As(err, &w)
}

// DontErrorTrace reports whether err should be left out of error tracking: it
// is a warning, or the work was cancelled or ran out of time.
func DontErrorTrace(err error) bool {
	return IsWarning(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
