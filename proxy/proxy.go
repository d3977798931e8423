/*
Package proxy serves a recording reverse proxy in front of one upstream, for
clients that cannot be given an http.RoundTripper (other processes, other
languages, browsers).

Each request names its fixture in the X-Replay-Fixture header. The name is
substituted for {fixture} in the configured location, so one proxy can serve
many fixtures:

	p, err := proxy.New(ctx, proxy.Config{
		Target:   "https://api.example.com",
		Location: "fixtures/{fixture}.json",
	})

Engines are cached per location, the least recently used are dropped (and
their stores closed) when the cache is full. An engine still serving a request
is never dropped: there is at most one engine per location at any time.
*/
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru"

	"github.com/circleci/replay/closer"
	"github.com/circleci/replay/engine"
	"github.com/circleci/replay/fingerprint"
	"github.com/circleci/replay/fixture"
	"github.com/circleci/replay/httpserver/ginrouter"
	"github.com/circleci/replay/o11y"
	"github.com/circleci/replay/storage"
	"github.com/circleci/replay/transport"
)

const (
	// FixtureHeader names the fixture a request is recorded in or replayed from.
	FixtureHeader = "X-Replay-Fixture"
	// OutcomeHeader is set on responses to say whether they were replayed or recorded.
	OutcomeHeader = "X-Replay-Outcome"

	fixturePlaceholder = "{fixture}"
)

var validFixture = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(/[A-Za-z0-9][A-Za-z0-9._-]*)*$`)

// hopHeaders are not forwarded in either direction, nor do they take part in
// the fingerprint.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	FixtureHeader,
}

type Config struct {
	// Target is the base URL of the upstream.
	Target string
	// Location of the fixtures, see storage.Open. Any {fixture} is replaced by the
	// fixture named in the request.
	Location string
	// DefaultFixture is used for requests without the fixture header, default "default".
	DefaultFixture string
	Mode           transport.Mode
	Keys           fingerprint.Keys

	// Optional
	// CacheSize is the most engines kept, default 128.
	CacheSize int
	// Upstream sends the real calls, default http.DefaultTransport.
	Upstream http.RoundTripper
	// Open overrides storage.Open, mostly for tests.
	Open func(ctx context.Context, location string) (storage.Store, error)
}

type Proxy struct {
	target   *url.URL
	location string
	fallback string
	mode     transport.Mode
	keys     fingerprint.Keys
	upstream http.RoundTripper
	open     func(ctx context.Context, location string) (storage.Store, error)
	router   *gin.Engine

	// mu guards live and orders cache changes with them
	mu sync.Mutex
	// engines holds the cached locations, live every engine not yet closed,
	// including evicted ones still in use.
	engines *lru.Cache
	live    map[string]*liveEngine
}

type liveEngine struct {
	engine  *engine.Engine
	users   int
	evicted bool
}

func New(ctx context.Context, cfg Config) (*Proxy, error) {
	target, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", cfg.Target, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid target %q: need a scheme and host", cfg.Target)
	}
	if cfg.Location == "" {
		return nil, errors.New("no fixture location")
	}
	if cfg.DefaultFixture == "" {
		cfg.DefaultFixture = "default"
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 128
	}
	if cfg.Upstream == nil {
		cfg.Upstream = http.DefaultTransport
	}
	if cfg.Open == nil {
		cfg.Open = storage.Open
	}

	p := &Proxy{
		target:   target,
		location: cfg.Location,
		fallback: cfg.DefaultFixture,
		mode:     cfg.Mode,
		keys:     cfg.Keys,
		upstream: cfg.Upstream,
		open:     cfg.Open,
		live:     map[string]*liveEngine{},
	}

	p.engines, err = lru.NewWithEvict(cfg.CacheSize, p.evicted)
	if err != nil {
		return nil, err
	}

	r := ginrouter.Default(ctx, "proxy")
	r.Any("/*path", p.handle)
	p.router = r

	return p, nil
}

func (p *Proxy) Handler() http.Handler {
	return p.router
}

// Engine returns the engine recording to the named fixture. The engine is not
// held: once evicted from the cache its store may be closed.
func (p *Proxy) Engine(ctx context.Context, name string) (*engine.Engine, error) {
	location, err := p.locate(name)
	if err != nil {
		return nil, err
	}
	e, release, err := p.acquire(ctx, location)
	if err != nil {
		return nil, err
	}
	release()
	return e, nil
}

// Close drops every cached engine, closing stores that hold connections.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engines.Purge()
	return nil
}

// MetricName and Gauges make the proxy a system.MetricProducer.
func (p *Proxy) MetricName() string {
	return "proxy"
}

func (p *Proxy) Gauges(ctx context.Context) map[string]float64 {
	p.mu.Lock()
	engines := make([]*engine.Engine, 0, len(p.live))
	busy := 0
	for _, l := range p.live {
		engines = append(engines, l.engine)
		if l.users > 0 {
			busy++
		}
	}
	cached := p.engines.Len()
	p.mu.Unlock()

	recordings := 0
	for _, e := range engines {
		recordings += e.Len(ctx)
	}
	return map[string]float64{
		"cached_fixtures": float64(cached),
		"busy_fixtures":   float64(busy),
		"recordings":      float64(recordings),
	}
}

func (p *Proxy) locate(name string) (string, error) {
	if name == "" {
		name = p.fallback
	}
	if !validFixture.MatchString(name) {
		return "", fmt.Errorf("invalid fixture name %q", name)
	}
	return strings.ReplaceAll(p.location, fixturePlaceholder, name), nil
}

// acquire returns the one engine for location, creating it if needed. The engine
// stays reachable, and its store open, until release is called.
func (p *Proxy) acquire(ctx context.Context, location string) (_ *engine.Engine, release func(), err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.live[location]
	switch {
	case ok && l.evicted:
		// still in use elsewhere, so it goes back in the cache rather than being replaced
		l.evicted = false
		p.engines.Add(location, l)
	case ok:
		p.engines.Get(location)
	default:
		store, err := p.open(ctx, location)
		if err != nil {
			return nil, nil, err
		}
		l = &liveEngine{engine: engine.New(engine.Config{Store: store, Keys: p.keys})}
		p.live[location] = l
		p.engines.Add(location, l)
	}
	l.users++

	var once sync.Once
	return l.engine, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			l.users--
			if l.evicted && l.users == 0 {
				p.closeLocked(location, l)
			}
		})
	}, nil
}

// evicted is called by the cache with p.mu held.
func (p *Proxy) evicted(key, value interface{}) {
	l := value.(*liveEngine)
	l.evicted = true
	if l.users == 0 {
		p.closeLocked(key.(string), l)
	}
}

func (p *Proxy) closeLocked(location string, l *liveEngine) {
	if p.live[location] == l {
		delete(p.live, location)
	}
	c, ok := l.engine.Store().(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		o11y.LogError(context.Background(), "proxy: close store", err, o11y.Field("location", location))
	}
}

func (p *Proxy) handle(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.GetHeader(FixtureHeader)
	o11y.AddField(ctx, "fixture", name)

	location, err := p.locate(name)
	if err != nil {
		c.String(http.StatusBadRequest, "replay: %v\n", err)
		return
	}
	e, release, err := p.acquire(ctx, location)
	if err != nil {
		o11y.LogError(ctx, "proxy: open fixture", err, o11y.Field("location", location))
		c.String(http.StatusInternalServerError, "replay: open fixture %s: %v\n", location, err)
		return
	}
	defer release()

	out := p.outbound(c.Request)
	resp, outcome, err := p.roundTrip(ctx, e, out)
	var perr *engine.PersistError
	switch {
	case errors.Is(err, transport.ErrNoRecording):
		c.String(http.StatusBadGateway, "replay: no recording of %s %s in %s, and the proxy is in %s mode\n",
			out.Method, out.URL, location, p.mode)
		return
	case errors.As(err, &perr):
		// the response is still good, only the fixture is behind
		o11y.LogError(ctx, "proxy: persist recording", err, o11y.Field("location", location))
	case err != nil:
		c.String(http.StatusBadGateway, "replay: upstream: %v\n", err)
		return
	}

	h := c.Writer.Header()
	for k, v := range resp.Headers {
		h.Set(k, v)
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
	h.Del("Content-Length")
	if outcome != "" {
		h.Set(OutcomeHeader, outcome)
	}
	c.Status(resp.Status.Code)
	_, _ = c.Writer.Write(resp.Body)
}

// roundTrip applies the mode, returning the response and whether it was replayed
// or recorded. Passthrough responses have no outcome.
func (p *Proxy) roundTrip(ctx context.Context, e *engine.Engine, out *http.Request) (fixture.Response, string, error) {
	if p.mode == transport.ModePassthrough {
		resp, err := p.fetch(out)
		return resp, "", err
	}

	r, err := fingerprint.NewRequest(out)
	if err != nil {
		return fixture.Response{}, "", err
	}

	if p.mode == transport.ModeReplayOnly {
		d := e.Decide(ctx, r)
		if !d.Replay {
			o11y.AddFieldToTrace(ctx, "replay.outcome", "missing")
			return fixture.Response{}, "", transport.ErrNoRecording
		}
		return d.Response, string(engine.OutcomeReplayed), nil
	}

	res, err := e.Do(ctx, r, func(ctx context.Context) (fixture.Response, error) {
		return p.fetch(out.WithContext(ctx))
	})
	return res.Response, string(res.Outcome), err
}

func (p *Proxy) fetch(req *http.Request) (_ fixture.Response, err error) {
	resp, err := p.upstream.RoundTrip(req)
	if err != nil {
		return fixture.Response{}, err
	}
	defer closer.ErrorHandler(resp.Body, &err)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fixture.Response{}, fmt.Errorf("read response body: %w", err)
	}
	return transport.ResponseFrom(resp, body), nil
}

// outbound builds the upstream request for in.
func (p *Proxy) outbound(in *http.Request) *http.Request {
	out := in.Clone(in.Context())
	out.RequestURI = ""
	out.URL = &url.URL{
		Scheme:   p.target.Scheme,
		Host:     p.target.Host,
		Path:     joinPath(p.target.Path, in.URL.Path),
		RawQuery: in.URL.RawQuery,
	}
	out.Host = p.target.Host
	for _, k := range hopHeaders {
		out.Header.Del(k)
	}
	if out.ContentLength == 0 {
		out.Body = nil
	}
	return out
}

func joinPath(a, b string) string {
	switch {
	case a == "":
		return b
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	}
	return a + b
}
