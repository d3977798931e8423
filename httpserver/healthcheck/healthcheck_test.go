package healthcheck

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/circleci/replay/system"
	"github.com/circleci/replay/testing/testcontext"
)

func TestAPI_Health(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("redis ping failed") }

	tests := []struct {
		name       string
		ready      func(context.Context) error
		live       func(context.Context) error
		wantReady  int
		wantLive   int
		wantStatus string
	}{
		{name: "healthy", ready: ok, live: ok, wantReady: http.StatusOK, wantLive: http.StatusOK},
		{name: "store down", ready: down, live: ok, wantReady: http.StatusServiceUnavailable, wantLive: http.StatusOK},
		{name: "dead", ready: ok, live: down, wantReady: http.StatusOK, wantLive: http.StatusServiceUnavailable},
		{name: "ready only", ready: ok, wantReady: http.StatusOK, wantLive: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := startAPI(t, checker{name: "fixture_store", ready: tt.ready, live: tt.live})

			body, status := get(t, url+"/ready")
			assert.Check(t, cmp.Equal(status, tt.wantReady))
			assert.Check(t, cmp.Contains(body, `"status":"`+statusText(tt.wantReady)+`"`))

			body, status = get(t, url+"/live")
			assert.Check(t, cmp.Equal(status, tt.wantLive))
			assert.Check(t, cmp.Contains(body, `"status":"`+statusText(tt.wantLive)+`"`))
		})
	}
}

func statusText(code int) string {
	if code == http.StatusOK {
		return "OK"
	}
	return "Unavailable"
}

func TestAPI_Profiles(t *testing.T) {
	url := startAPI(t)

	body, status := get(t, url+"/debug/pprof")
	assert.Check(t, cmp.Equal(status, http.StatusOK))
	assert.Check(t, cmp.Contains(body, "Types of profiles available"))

	body, status = get(t, url+"/debug/pprof/heap")
	assert.Check(t, cmp.Equal(status, http.StatusOK))
	assert.Check(t, len(body) > 100)

	for _, p := range []string{"cmdline", "profile", "symbol", "trace"} {
		t.Run(p, func(t *testing.T) {
			_, status := get(t, url+"/debug/pprof/"+p+"?seconds=1")
			assert.Check(t, cmp.Equal(status, http.StatusOK))
		})
	}

	_, status = get(t, url+"/debug/pprof/fixtures")
	assert.Check(t, cmp.Equal(status, http.StatusNotFound))
}

func TestLoad(t *testing.T) {
	ctx := testcontext.Background()
	sys := system.New()
	sys.AddHealthCheck(checker{name: "fixture_store", ready: func(context.Context) error { return nil }})

	srv, err := Load(ctx, "localhost:0", sys)
	assert.Assert(t, err)
	assert.Check(t, srv.Addr() != "")
}

type checker struct {
	name        string
	ready, live func(context.Context) error
}

func (c checker) HealthChecks() (string, func(context.Context) error, func(context.Context) error) {
	return c.name, c.ready, c.live
}

func startAPI(t *testing.T, checked ...system.HealthChecker) string {
	t.Helper()
	api, err := New(testcontext.Background(), checked)
	assert.Assert(t, err)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func get(t *testing.T, url string) (string, int) {
	t.Helper()
	res, err := http.Get(url) //nolint:gosec
	assert.Assert(t, err)
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	assert.Assert(t, err)
	return string(b), res.StatusCode
}
