// Package closer keeps the error of a deferred Close from being dropped.
package closer

import "io"

// ErrorHandler closes c and stores the close error in *err, unless *err already
// holds an earlier error. Defer it with the address of a named error return:
//
//	defer closer.ErrorHandler(resp.Body, &err)
func ErrorHandler(c io.Closer, err *error) {
	cerr := c.Close()
	if *err == nil {
		*err = cerr
	}
}
