package replaytest

import (
	"net/http"

	gocmp "github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// IgnoreHeaders compares http.Header values without the named headers, for
// asserting on recorded request headers.
func IgnoreHeaders(headers ...string) gocmp.Option {
	return cmpopts.IgnoreMapEntries(func(h string, _ []string) bool {
		for _, header := range headers {
			if http.CanonicalHeaderKey(header) == http.CanonicalHeaderKey(h) {
				return true
			}
		}
		return false
	})
}

// OnlyHeaders compares http.Header values on just the named headers.
func OnlyHeaders(headers ...string) gocmp.Option {
	return cmpopts.IgnoreMapEntries(func(h string, _ []string) bool {
		for _, header := range headers {
			if http.CanonicalHeaderKey(header) == http.CanonicalHeaderKey(h) {
				return false
			}
		}
		return true
	})
}
