package replaytest

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/circleci/replay/o11y"
	"github.com/circleci/replay/testing/testcontext"
)

type Request struct {
	Method string
	URL    url.URL
	Header http.Header
	Body   []byte
}

func (r *Request) StringBody() string {
	return string(r.Body)
}

// Upstream is a fake server that records every request it receives.
type Upstream struct {
	*httptest.Server

	mu       sync.RWMutex
	requests []Request
}

// NewUpstream starts a server for h that is closed when the test finishes.
func NewUpstream(t testing.TB, h http.Handler) *Upstream {
	u := &Upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := u.record(r); err != nil {
			o11y.LogError(testcontext.Background(), "replaytest: problem recording upstream request", err)
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

// record stores a copy of the incoming request ensuring the body can still
// be consumed by the handler
func (u *Upstream) record(request *http.Request) (err error) {
	req := Request{
		Method: request.Method,
		URL:    *request.URL,
		Header: request.Header.Clone(),
	}

	req.Body, err = io.ReadAll(request.Body)
	if err != nil {
		return err
	}
	request.Body = io.NopCloser(bytes.NewReader(req.Body))

	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, req)
	return nil
}

func (u *Upstream) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = nil
}

// Hits is the number of requests that reached the server.
func (u *Upstream) Hits() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.requests)
}

func (u *Upstream) AllRequests() []Request {
	u.mu.RLock()
	defer u.mu.RUnlock()
	requests := make([]Request, len(u.requests))
	copy(requests, u.requests)
	return requests
}

func (u *Upstream) LastRequest() *Request {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if len(u.requests) == 0 {
		return nil
	}
	req := u.requests[len(u.requests)-1]
	return &req
}
