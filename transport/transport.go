/*
Package transport intercepts the requests of an *http.Client and routes them
through a replay engine.

	e := engine.New(engine.Config{Store: storage.NewFile("testdata/items.json")})
	restore := transport.Enable(client, e, transport.Options{})
	defer restore()

While enabled, a request with a recording is answered from the fixture without
touching the network. Other requests are sent, and the response recorded,
unless the mode says otherwise.
*/
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/circleci/replay/engine"
	"github.com/circleci/replay/fingerprint"
	"github.com/circleci/replay/fixture"
	"github.com/circleci/replay/o11y"
)

type Mode int

const (
	// ModeRecordIfMissing replays recordings and records everything else.
	ModeRecordIfMissing Mode = iota
	// ModeReplayOnly replays recordings and fails everything else with ErrNoRecording.
	ModeReplayOnly
	// ModePassthrough sends every request and leaves the engine untouched.
	ModePassthrough
)

func (m Mode) String() string {
	switch m {
	case ModeRecordIfMissing:
		return "record-if-missing"
	case ModeReplayOnly:
		return "replay-only"
	case ModePassthrough:
		return "passthrough"
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModeRecordIfMissing, ModeReplayOnly, ModePassthrough} {
		if s == m.String() {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown replay mode %q", s)
}

type Options struct {
	Mode Mode
}

// ErrNoRecording is returned in ModeReplayOnly for requests with no recording.
var ErrNoRecording = errors.New("no recording for request")

// Error is returned by the transport for replay failures, as opposed to errors
// from the real call which are returned unchanged. Response is set when the
// real call succeeded but the recording could not be persisted.
type Error struct {
	Request  *http.Request
	Response *http.Response
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("replay %s %s: %v", e.Request.Method, e.Request.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport is an http.RoundTripper backed by a replay engine.
type Transport struct {
	engine *engine.Engine
	next   http.RoundTripper
	mode   Mode
}

// New returns a Transport that sends real calls through next, or
// http.DefaultTransport if next is nil.
func New(e *engine.Engine, next http.RoundTripper, opts Options) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{
		engine: e,
		next:   next,
		mode:   opts.Mode,
	}
}

// Enable routes the requests of client through e until the returned func is
// called. Enable and the restore func must not race with requests on client.
func Enable(client *http.Client, e *engine.Engine, opts Options) (restore func()) {
	prev := client.Transport
	client.Transport = New(e, prev, opts)
	return func() {
		client.Transport = prev
	}
}

func (t *Transport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	ctx, span := o11y.StartSpan(req.Context(), "transport: round trip")
	defer o11y.End(span, &err)
	span.AddRawField("http.method", req.Method)
	span.AddRawField("http.url", req.URL.String())
	span.AddRawField("replay.mode", t.mode.String())

	if t.mode == ModePassthrough {
		return t.next.RoundTrip(req)
	}

	out := req.Clone(ctx)
	r, err := fingerprint.NewRequest(out)
	if err != nil {
		return nil, &Error{Request: req, Err: err}
	}

	if t.mode == ModeReplayOnly {
		d := t.engine.Decide(ctx, r)
		if !d.Replay {
			span.AddRawField("replay.outcome", "missing")
			return nil, &Error{Request: req, Err: ErrNoRecording}
		}
		span.AddRawField("replay.outcome", string(engine.OutcomeReplayed))
		return NewResponse(req, d.Response), nil
	}

	res, err := t.engine.Do(ctx, r, func(ctx context.Context) (fixture.Response, error) {
		return t.fetch(out.WithContext(ctx))
	})
	var perr *engine.PersistError
	switch {
	case errors.As(err, &perr):
		return nil, &Error{Request: req, Response: NewResponse(req, res.Response), Err: err}
	case err != nil:
		return nil, err
	}
	span.AddRawField("replay.outcome", string(res.Outcome))
	return NewResponse(req, res.Response), nil
}

func (t *Transport) fetch(req *http.Request) (fixture.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return fixture.Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fixture.Response{}, fmt.Errorf("read response body: %w", err)
	}
	return ResponseFrom(resp, body), nil
}

// ResponseFrom converts a real response, whose body has been read, to its
// recorded form.
func ResponseFrom(resp *http.Response, body []byte) fixture.Response {
	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = strings.Join(v, ", ")
	}
	return fixture.Response{
		Status: fixture.Status{
			Code:    resp.StatusCode,
			Message: statusMessage(resp),
		},
		Headers: headers,
		Body:    body,
	}
}

// NewResponse synthesises an *http.Response for req from a recording.
func NewResponse(req *http.Request, r fixture.Response) *http.Response {
	h := make(http.Header, len(r.Headers))
	for k, v := range r.Headers {
		h[k] = []string{v}
	}
	return &http.Response{
		Status:        strconv.Itoa(r.Status.Code) + " " + r.Status.Message,
		StatusCode:    r.Status.Code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

func statusMessage(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if msg := strings.TrimPrefix(resp.Status, code+" "); msg != resp.Status && msg != "" {
		return msg
	}
	return http.StatusText(resp.StatusCode)
}
