/*
Package normalize contains pure functions that canonicalise one piece of request
key material before it is fingerprinted.

Each normaliser maps a value to a value of the same shape and never mutates its
input. They are used to mask volatile values (timestamps, nonces, auth tokens,
request IDs) or to loosen equality, so that requests which differ only in noise
share a fingerprint.

The *Key functions return normalisers suitable for fingerprint.Keys:

	keys := fingerprint.Keys{
		URL:     normalize.FilterQueryParamsKey("token", "ts"),
		Headers: normalize.FilterHeadersKey(normalize.DefaultVolatileHeaders...),
	}
*/
package normalize

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultVolatileHeaders are request headers that usually vary between runs of
// the same test without changing the meaning of the request.
var DefaultVolatileHeaders = []string{
	"Authorization",
	"Connection",
	"Date",
	"Proxy-Authorization",
	"Transfer-Encoding",
	"Upgrade",
	"User-Agent",
	"X-Request-Id",
}

// SortString returns s with its characters in sorted order. It is an
// approximate equality for bodies whose content is equivalent under any
// permutation, not a content aware parser. Strings that are not valid UTF-8
// have their bytes sorted instead, so distinct binary bodies stay distinct.
func SortString(s string) string {
	if s == "" {
		return s
	}
	if !utf8.ValidString(s) {
		b := []byte(s)
		sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
		return string(b)
	}
	r := []rune(s)
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return string(r)
}

// SortStringKey returns a key func that sorts the characters of its input.
func SortStringKey() func(string) string {
	return SortString
}

// FilterQueryParams removes all the named parameters from the query of rawURL.
// The remaining parameters are re-encoded sorted by name. A query that does
// not parse cleanly (a ';' separator, a bad escape) is filtered segment by
// segment instead, splitting on both '&' and ';' and keeping the remaining
// segments as written, sorted. If rawURL can not be parsed it is returned
// unchanged.
func FilterQueryParams(rawURL string, remove ...string) string {
	if rawURL == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		u.RawQuery = filterRawQuery(u.RawQuery, remove)
	} else {
		for _, name := range remove {
			q.Del(name)
		}
		u.RawQuery = q.Encode()
	}
	u.ForceQuery = false
	return u.String()
}

func filterRawQuery(raw string, remove []string) string {
	drop := make(map[string]bool, len(remove))
	for _, name := range remove {
		drop[name] = true
	}
	segments := strings.FieldsFunc(raw, func(r rune) bool { return r == '&' || r == ';' })
	kept := segments[:0]
	for _, seg := range segments {
		name, _, _ := strings.Cut(seg, "=")
		if n, err := url.QueryUnescape(name); err == nil {
			name = n
		}
		if !drop[name] {
			kept = append(kept, seg)
		}
	}
	sort.Strings(kept)
	return strings.Join(kept, "&")
}

// FilterQueryParamsKey returns a key func that removes the named parameters
// from a URL.
func FilterQueryParamsKey(remove ...string) func(string) string {
	names := append([]string(nil), remove...)
	return func(rawURL string) string {
		return FilterQueryParams(rawURL, names...)
	}
}

// SortQueryKey returns a key func that only reorders the query parameters of a
// URL, making the fingerprint insensitive to parameter insertion order.
func SortQueryKey() func(string) string {
	return FilterQueryParamsKey()
}

// FilterHeaders returns a copy of h without the named headers. Names are
// matched in their canonical form, so "x-request-id" removes "X-Request-Id".
func FilterHeaders(h http.Header, remove ...string) http.Header {
	if h == nil {
		return nil
	}
	out := h.Clone()
	for _, name := range remove {
		delete(out, name)
		out.Del(name)
	}
	return out
}

// FilterHeadersKey returns a key func that removes the named headers.
func FilterHeadersKey(remove ...string) func(http.Header) http.Header {
	names := append([]string(nil), remove...)
	return func(h http.Header) http.Header {
		return FilterHeaders(h, names...)
	}
}

// OnlyHeadersKey returns a key func that keeps just the named headers.
func OnlyHeadersKey(keep ...string) func(http.Header) http.Header {
	wanted := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		wanted[http.CanonicalHeaderKey(name)] = struct{}{}
	}
	return func(h http.Header) http.Header {
		if h == nil {
			return nil
		}
		out := make(http.Header, len(wanted))
		for k, v := range h {
			if _, ok := wanted[http.CanonicalHeaderKey(k)]; ok {
				out[k] = append([]string(nil), v...)
			}
		}
		return out
	}
}

// Chain composes string key funcs, applying them left to right. Nil funcs are
// skipped.
func Chain(keys ...func(string) string) func(string) string {
	return func(s string) string {
		for _, k := range keys {
			if k != nil {
				s = k(s)
			}
		}
		return s
	}
}

// TrimSpaceKey returns a key func that trims leading and trailing white space,
// useful for bodies that are re-serialised with varying trailing newlines.
func TrimSpaceKey() func(string) string {
	return strings.TrimSpace
}
