/*
Package fingerprint turns the raw key material of an outgoing HTTP request into a
comparable Fingerprint.

A Fingerprint is derived from the method, URL, body, headers and the destination
host and port. Optional key funcs (see Keys) normalise the URL, body and headers
before they take part, so that requests differing only in volatile values can be
treated as the same request.
*/
package fingerprint

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"unicode/utf8"
)

// binaryPrefix marks a body that was not valid UTF-8 and is stored base64 encoded.
const binaryPrefix = "base64:"

// Request is the raw key material for one outgoing request.
type Request struct {
	Method string
	URL    string
	// Body is nil when the request has no body.
	Body   []byte
	Header http.Header
	Host   string
	Port   int
}

// Keys holds the optional normalisers applied before comparison. A nil func means
// the raw value takes part unchanged.
type Keys struct {
	URL     func(string) string
	Body    func(string) string
	Headers func(http.Header) http.Header
}

// Fingerprint is the canonical comparison key of a request. Use Key or Equal to
// compare fingerprints, the struct itself holds a map and so is not comparable.
type Fingerprint struct {
	Method string
	URL    string
	// Body is nil when the request had no body.
	Body    *string
	Headers http.Header
	Host    string
	Port    int
}

// Build normalises the request with keys and combines the result into a
// Fingerprint. It never mutates r; the headers func receives a copy.
func Build(r Request, keys Keys) Fingerprint {
	u := r.URL
	if u != "" && keys.URL != nil {
		u = keys.URL(u)
	}

	var body *string
	if len(r.Body) > 0 {
		b := string(r.Body)
		if keys.Body != nil {
			b = keys.Body(b)
		}
		b = textSafe(b)
		body = &b
	}

	h := r.Header.Clone()
	if keys.Headers != nil {
		h = keys.Headers(h)
	}
	if h == nil {
		h = http.Header{}
	}

	return Fingerprint{
		Method:  r.Method,
		URL:     u,
		Body:    body,
		Headers: h,
		Host:    r.Host,
		Port:    r.Port,
	}
}

// Key returns the canonical string form of the fingerprint. Two fingerprints
// are equal if and only if their keys are equal.
func (f Fingerprint) Key() string {
	b, err := f.MarshalJSON()
	if err != nil {
		// the wire form only holds strings, ints and string slices
		panic(fmt.Errorf("fingerprint: marshal: %w", err))
	}
	return string(b)
}

// Equal reports whether f and o have the same normalised content.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.Key() == o.Key()
}

func (f Fingerprint) String() string {
	return f.Method + " " + f.URL
}

// BodyBytes returns the stored body, decoding bodies that were kept base64
// encoded because they were not valid UTF-8.
func (f Fingerprint) BodyBytes() []byte {
	if f.Body == nil {
		return nil
	}
	s := *f.Body
	if len(s) > len(binaryPrefix) && s[:len(binaryPrefix)] == binaryPrefix {
		if b, err := base64.StdEncoding.DecodeString(s[len(binaryPrefix):]); err == nil {
			return b
		}
	}
	return []byte(s)
}

// wire is the persisted form of a Fingerprint. Fields are declared in key order
// so the encoded object has sorted keys.
type wire struct {
	Body    *string   `json:"body"`
	Headers headerMap `json:"headers"`
	Host    string    `json:"host"`
	Method  string    `json:"method"`
	Port    int       `json:"port"`
	URL     string    `json:"url"`
}

func (f Fingerprint) MarshalJSON() ([]byte, error) {
	h := headerMap(f.Headers)
	if h == nil {
		h = headerMap{}
	}
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(wire{
		Body:    f.Body,
		Headers: h,
		Host:    f.Host,
		Method:  f.Method,
		Port:    f.Port,
		URL:     f.URL,
	})
	if err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (f *Fingerprint) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	h := http.Header(w.Headers)
	if h == nil {
		h = http.Header{}
	}
	*f = Fingerprint{
		Method:  w.Method,
		URL:     w.URL,
		Body:    w.Body,
		Headers: h,
		Host:    w.Host,
		Port:    w.Port,
	}
	return nil
}

// headerMap decodes header values written either as a list or as a single
// string, the latter being convenient in hand written fixtures.
type headerMap map[string][]string

func (m *headerMap) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	out := make(headerMap, len(raw))
	for k, v := range raw {
		var list []string
		if err := json.Unmarshal(v, &list); err == nil {
			out[k] = list
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("header %q: %w", k, err)
		}
		out[k] = []string{s}
	}
	*m = out
	return nil
}

// NewRequest extracts the key material from req. The body is read and replaced
// so the request can still be sent.
func NewRequest(req *http.Request) (Request, error) {
	r := Request{
		Method: req.Method,
		Header: req.Header.Clone(),
	}
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	if req.URL != nil {
		r.URL = req.URL.String()
		r.Host = req.URL.Hostname()
		r.Port = port(req.URL.Scheme, req.URL.Port())
	}
	if r.Header == nil {
		r.Header = http.Header{}
	}

	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return Request{}, fmt.Errorf("read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		if len(body) > 0 {
			r.Body = body
		}
	}
	return r, nil
}

func port(scheme, p string) int {
	if p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	switch scheme {
	case "https", "wss":
		return 443
	case "http", "ws":
		return 80
	}
	return 0
}

func textSafe(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return binaryPrefix + base64.StdEncoding.EncodeToString([]byte(s))
}
