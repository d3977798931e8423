package transport

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/circleci/replay/engine"
	"github.com/circleci/replay/storage"
	"github.com/circleci/replay/testing/testcontext"
)

const itemsFixture = `[
    {
        "request": {
            "body": null,
            "headers": {},
            "host": "example.com",
            "method": "GET",
            "port": 80,
            "url": "http://example.com/items"
        },
        "response": {
            "body": "W10=",
            "headers": {},
            "status": {
                "code": 200,
                "message": "OK"
            }
        }
    }
]
`

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

type countingUpstream struct {
	calls int32
	rt    roundTripFunc
}

func (c *countingUpstream) RoundTrip(r *http.Request) (*http.Response, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.rt(r)
}

func (c *countingUpstream) Calls() int {
	return int(atomic.LoadInt32(&c.calls))
}

func itemsUpstream() *countingUpstream {
	return &countingUpstream{rt: func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			Status:     "200 OK",
			StatusCode: 200,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("[]")),
			Request:    r,
		}, nil
	}}
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(testcontext.Background(), http.MethodGet, url, nil)
	assert.Assert(t, err)
	resp, err := client.Do(req)
	assert.Assert(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	assert.Assert(t, err)
	return resp, string(b)
}

func TestTransport_ItemsScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures", "items.json")
	up := itemsUpstream()
	client := &http.Client{Transport: up}

	t.Run("record", func(t *testing.T) {
		e := engine.New(engine.Config{Store: storage.NewFile(path)})
		restore := Enable(client, e, Options{})
		defer restore()

		resp, body := get(t, client, "http://example.com/items")
		assert.Check(t, cmp.Equal(resp.StatusCode, 200))
		assert.Check(t, cmp.Equal(body, "[]"))
		assert.Check(t, cmp.Equal(up.Calls(), 1))

		b, err := os.ReadFile(path)
		assert.Assert(t, err)
		assert.Check(t, cmp.Equal(string(b), itemsFixture))
	})

	t.Run("restore puts the original transport back", func(t *testing.T) {
		assert.Check(t, client.Transport == http.RoundTripper(up))
	})

	t.Run("replay in a new scope", func(t *testing.T) {
		e := engine.New(engine.Config{Store: storage.NewFile(path)})
		restore := Enable(client, e, Options{})
		defer restore()

		resp, body := get(t, client, "http://example.com/items")
		assert.Check(t, cmp.Equal(resp.StatusCode, 200))
		assert.Check(t, cmp.Equal(resp.Status, "200 OK"))
		assert.Check(t, cmp.Equal(body, "[]"))
		assert.Check(t, cmp.Equal(up.Calls(), 1), "the network is not touched")
	})
}

func TestTransport_RealServer(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		b, _ := io.ReadAll(r.Body)
		w.Header().Add("X-Multi", "a")
		w.Header().Add("X-Multi", "b")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"echo":"` + string(b) + `"}`))
	}))

	store := storage.NewFile(filepath.Join(t.TempDir(), "echo.json"))
	client := &http.Client{}
	e := engine.New(engine.Config{Store: store})
	restore := Enable(client, e, Options{})
	defer restore()

	post := func() (*http.Response, string) {
		req, err := http.NewRequestWithContext(testcontext.Background(),
			http.MethodPost, srv.URL+"/echo", strings.NewReader("hello"))
		assert.Assert(t, err)
		resp, err := client.Do(req)
		assert.Assert(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		assert.Assert(t, err)
		return resp, string(b)
	}

	resp, body := post()
	assert.Check(t, cmp.Equal(resp.StatusCode, http.StatusCreated))
	assert.Check(t, cmp.Equal(body, `{"echo":"hello"}`))

	srv.Close()

	resp, body = post()
	assert.Check(t, cmp.Equal(resp.StatusCode, http.StatusCreated))
	assert.Check(t, cmp.Equal(resp.Status, "201 Created"))
	assert.Check(t, cmp.Equal(body, `{"echo":"hello"}`))
	assert.Check(t, cmp.Equal(resp.Header.Get("X-Multi"), "a, b"))
	assert.Check(t, cmp.Equal(resp.Header.Get("Content-Type"), "application/json"))
	assert.Check(t, cmp.Equal(atomic.LoadInt32(&hits), int32(1)))
}

func TestTransport_ReplayOnly(t *testing.T) {
	up := itemsUpstream()
	client := &http.Client{Transport: up}
	e := engine.New(engine.Config{Store: storage.NewFile(filepath.Join(t.TempDir(), "empty.json"))})
	restore := Enable(client, e, Options{Mode: ModeReplayOnly})
	defer restore()

	req, err := http.NewRequestWithContext(testcontext.Background(), http.MethodGet, "http://example.com/items", nil)
	assert.Assert(t, err)
	_, err = client.Do(req)
	assert.Check(t, errors.Is(err, ErrNoRecording))

	var terr *Error
	assert.Assert(t, errors.As(err, &terr))
	assert.Check(t, cmp.Equal(terr.Request.URL.String(), "http://example.com/items"))
	assert.Check(t, cmp.Equal(up.Calls(), 0))
	assert.Check(t, cmp.Equal(e.Len(testcontext.Background()), 0))

	t.Run("recordings are replayed", func(t *testing.T) {
		rec := engine.New(engine.Config{Store: e.Store()})
		_, _ = get(t, &http.Client{Transport: New(rec, up, Options{})}, "http://example.com/items")
		assert.Check(t, cmp.Equal(up.Calls(), 1))

		replay := engine.New(engine.Config{Store: e.Store()})
		client := &http.Client{Transport: New(replay, up, Options{Mode: ModeReplayOnly})}
		_, body := get(t, client, "http://example.com/items")
		assert.Check(t, cmp.Equal(body, "[]"))
		assert.Check(t, cmp.Equal(up.Calls(), 1))
	})
}

func TestTransport_Passthrough(t *testing.T) {
	up := itemsUpstream()
	e := engine.New(engine.Config{Store: storage.NewFile(filepath.Join(t.TempDir(), "items.json"))})
	client := &http.Client{Transport: New(e, up, Options{Mode: ModePassthrough})}

	_, body := get(t, client, "http://example.com/items")
	_, _ = get(t, client, "http://example.com/items")
	assert.Check(t, cmp.Equal(body, "[]"))
	assert.Check(t, cmp.Equal(up.Calls(), 2))
	assert.Check(t, cmp.Equal(e.Len(testcontext.Background()), 0))
}

func TestTransport_UpstreamErrorIsUnchanged(t *testing.T) {
	refused := errors.New("connection refused")
	up := &countingUpstream{rt: func(*http.Request) (*http.Response, error) {
		return nil, refused
	}}
	e := engine.New(engine.Config{Store: storage.NewFile(filepath.Join(t.TempDir(), "items.json"))})
	client := &http.Client{Transport: New(e, up, Options{})}

	req, err := http.NewRequestWithContext(testcontext.Background(), http.MethodGet, "http://example.com/items", nil)
	assert.Assert(t, err)
	_, err = client.Do(req)
	assert.Check(t, errors.Is(err, refused))

	var terr *Error
	assert.Check(t, !errors.As(err, &terr))
	assert.Check(t, cmp.Equal(e.Len(testcontext.Background()), 0))
}

func TestTransport_PersistFailure(t *testing.T) {
	dir := t.TempDir()
	// a directory where the fixture file should be makes every save fail
	path := filepath.Join(dir, "items.json")
	assert.Assert(t, os.MkdirAll(filepath.Join(path, "blocker"), 0o755))

	up := itemsUpstream()
	e := engine.New(engine.Config{Store: storage.NewFile(path)})
	client := &http.Client{Transport: New(e, up, Options{})}

	req, err := http.NewRequestWithContext(testcontext.Background(), http.MethodGet, "http://example.com/items", nil)
	assert.Assert(t, err)
	_, err = client.Do(req)

	var terr *Error
	assert.Assert(t, errors.As(err, &terr))
	var perr *engine.PersistError
	assert.Check(t, errors.As(err, &perr))
	assert.Assert(t, terr.Response != nil)
	assert.Check(t, cmp.Equal(terr.Response.StatusCode, 200))
}

func TestMode(t *testing.T) {
	for _, m := range []Mode{ModeRecordIfMissing, ModeReplayOnly, ModePassthrough} {
		parsed, err := ParseMode(m.String())
		assert.Check(t, err)
		assert.Check(t, cmp.Equal(parsed, m))
	}
	_, err := ParseMode("sometimes")
	assert.Check(t, cmp.ErrorContains(err, "unknown replay mode"))
}
