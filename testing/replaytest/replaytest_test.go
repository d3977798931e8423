package replaytest

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/circleci/replay/fingerprint"
	"github.com/circleci/replay/normalize"
	"github.com/circleci/replay/testing/testcontext"
	"github.com/circleci/replay/transport"
)

func listItems(t *testing.T, client *http.Client, url string) (string, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(testcontext.Background(), http.MethodGet, url, nil)
	assert.Assert(t, err)
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return string(b), err
}

func TestStart(t *testing.T) {
	up := NewUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `["widget"]`)
	}))
	location := filepath.Join(t.TempDir(), "testdata", "list_items.json")
	client := &http.Client{}
	opts := Options{Keys: fingerprint.Keys{URL: normalize.FilterQueryParamsKey("nonce")}}

	t.Run("first run records", func(t *testing.T) {
		e := Start(t, client, location, opts)
		body, err := listItems(t, client, up.URL+"/items?nonce=1")
		assert.Assert(t, err)
		assert.Check(t, cmp.Equal(body, `["widget"]`))
		assert.Check(t, cmp.Equal(e.Len(testcontext.Background()), 1))
	})

	assert.Check(t, client.Transport == nil, "the transport is restored at cleanup")
	assert.Check(t, cmp.Equal(up.Hits(), 1))
	assert.Check(t, cmp.Equal(up.LastRequest().URL.RawQuery, "nonce=1"))

	t.Run("second run replays", func(t *testing.T) {
		Start(t, client, location, Options{Keys: opts.Keys, Mode: transport.ModeReplayOnly})
		body, err := listItems(t, client, up.URL+"/items?nonce=2")
		assert.Assert(t, err)
		assert.Check(t, cmp.Equal(body, `["widget"]`))
	})
	assert.Check(t, cmp.Equal(up.Hits(), 1))

	t.Run("mode from the environment", func(t *testing.T) {
		t.Setenv(ModeEnv, "replay-only")
		Start(t, client, location, opts)
		_, err := listItems(t, client, up.URL+"/other")
		assert.Check(t, errors.Is(err, transport.ErrNoRecording))
	})
	assert.Check(t, cmp.Equal(up.Hits(), 1))
}

func TestUpstream(t *testing.T) {
	up := NewUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write(b)
	}))
	assert.Check(t, up.LastRequest() == nil)

	req, err := http.NewRequestWithContext(testcontext.Background(), http.MethodPut, up.URL+"/a",
		strings.NewReader("body"))
	assert.Assert(t, err)
	resp, err := http.DefaultClient.Do(req)
	assert.Assert(t, err)
	b, err := io.ReadAll(resp.Body)
	assert.Assert(t, err)
	_ = resp.Body.Close()

	assert.Check(t, cmp.Equal(string(b), "body"), "the handler can still read the body")
	assert.Assert(t, cmp.Len(up.AllRequests(), 1))
	last := up.LastRequest()
	assert.Check(t, cmp.Equal(last.Method, http.MethodPut))
	assert.Check(t, cmp.Equal(last.URL.Path, "/a"))
	assert.Check(t, cmp.Equal(last.StringBody(), "body"))

	up.Reset()
	assert.Check(t, cmp.Equal(up.Hits(), 0))
}
