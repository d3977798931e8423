/*
Package engine decides, per outgoing request, whether to replay a recorded
response or to let the request through and record what comes back.

The fixture is loaded from storage on first use and kept for the life of the
Engine. Every recording is appended and the whole fixture written back before
the response is handed to the caller, so a crash never loses a recorded
response that a caller has already seen.
*/
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/circleci/replay/fingerprint"
	"github.com/circleci/replay/fixture"
	"github.com/circleci/replay/o11y"
	"github.com/circleci/replay/recontext"
	"github.com/circleci/replay/storage"
)

type Config struct {
	Store storage.Store
	Keys  fingerprint.Keys
	// PersistTimeout bounds the save of a new recording made by Do, default 30s.
	PersistTimeout time.Duration
}

// Engine is safe for concurrent use. Separate engines share nothing, even when
// they point at the same store.
type Engine struct {
	store          storage.Store
	keys           fingerprint.Keys
	persistTimeout time.Duration

	// mu guards fix and orders appends with their persists
	mu  sync.Mutex
	fix *fixture.Fixture

	flights singleflight.Group
}

func New(cfg Config) *Engine {
	if cfg.PersistTimeout == 0 {
		cfg.PersistTimeout = 30 * time.Second
	}
	return &Engine{
		store:          cfg.Store,
		keys:           cfg.Keys,
		persistTimeout: cfg.PersistTimeout,
	}
}

func (e *Engine) Store() storage.Store {
	return e.store
}

type Outcome string

const (
	OutcomeReplayed Outcome = "replayed"
	OutcomeRecorded Outcome = "recorded"
)

// Decision is the answer for one request. When Replay is false the caller
// should perform the real call and Record the result.
type Decision struct {
	Fingerprint fingerprint.Fingerprint
	Replay      bool
	Response    fixture.Response
}

type Result struct {
	Fingerprint fingerprint.Fingerprint
	Outcome     Outcome
	Response    fixture.Response
}

// FetchFunc performs the real call.
type FetchFunc func(ctx context.Context) (fixture.Response, error)

// PersistError is returned when a response was recorded but the fixture could
// not be written. The recording stays in memory and is replayed by this Engine.
type PersistError struct {
	Fingerprint fingerprint.Fingerprint
	Store       string
	Err         error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist recording of %s to %s: %v", e.Fingerprint, e.Store, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Fingerprint builds the fingerprint of r with the engine's keys.
func (e *Engine) Fingerprint(r fingerprint.Request) fingerprint.Fingerprint {
	return fingerprint.Build(r, e.keys)
}

// Decide reports whether r has a recording.
func (e *Engine) Decide(ctx context.Context, r fingerprint.Request) Decision {
	fp := e.Fingerprint(r)
	resp, ok := e.lookup(ctx, fp)
	return Decision{
		Fingerprint: fp,
		Replay:      ok,
		Response:    resp,
	}
}

// Record appends the response for fp and persists the whole fixture.
func (e *Engine) Record(ctx context.Context, fp fingerprint.Fingerprint, resp fixture.Response) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fix := e.loadLocked(ctx)
	fix.Append(fp, resp)
	if err := fixture.Persist(ctx, fix, e.store); err != nil {
		return &PersistError{Fingerprint: fp, Store: e.store.String(), Err: err}
	}
	return nil
}

// Do replays the recording for r if there is one, otherwise it calls fetch and
// records the response. Concurrent misses for the same fingerprint share a
// single call to fetch. Errors from fetch are returned unchanged and nothing is
// recorded. A *PersistError is returned alongside a valid Result.
func (e *Engine) Do(ctx context.Context, r fingerprint.Request, fetch FetchFunc) (res Result, err error) {
	ctx, span := o11y.StartSpan(ctx, "replay: request")
	defer o11y.End(span, &err)
	span.RecordMetric(o11y.Timing("replay.request", "replay.outcome", "result"))

	d := e.Decide(ctx, r)
	span.AddField("fingerprint", d.Fingerprint.String())
	span.AddField("store", e.store.String())
	if d.Replay {
		span.AddRawField("replay.outcome", string(OutcomeReplayed))
		return Result{Fingerprint: d.Fingerprint, Outcome: OutcomeReplayed, Response: d.Response}, nil
	}

	v, err, shared := e.flights.Do(d.Fingerprint.Key(), func() (interface{}, error) {
		return e.record(ctx, d.Fingerprint, fetch)
	})
	span.AddField("shared", shared)
	if v == nil {
		return Result{Fingerprint: d.Fingerprint}, err
	}
	res = v.(Result)
	span.AddRawField("replay.outcome", string(res.Outcome))
	return res, err
}

func (e *Engine) record(ctx context.Context, fp fingerprint.Fingerprint, fetch FetchFunc) (interface{}, error) {
	// a flight for the same fingerprint may have finished since Decide
	if resp, ok := e.lookup(ctx, fp); ok {
		return Result{Fingerprint: fp, Outcome: OutcomeReplayed, Response: resp}, nil
	}

	resp, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	res := Result{Fingerprint: fp, Outcome: OutcomeRecorded, Response: resp}
	// the upstream has answered, so a caller going away must not lose the recording
	pctx, cancel := recontext.WithNewTimeout(ctx, e.persistTimeout)
	defer cancel()
	return res, e.Record(pctx, fp, resp)
}

// Len returns the number of recordings, loading the fixture if needed.
func (e *Engine) Len(ctx context.Context) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked(ctx).Len()
}

// Entries returns the recordings in order, loading the fixture if needed.
func (e *Engine) Entries(ctx context.Context) []fixture.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked(ctx).Entries()
}

func (e *Engine) lookup(ctx context.Context, fp fingerprint.Fingerprint) (fixture.Response, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked(ctx).Get(fp)
}

func (e *Engine) loadLocked(ctx context.Context) *fixture.Fixture {
	if e.fix == nil {
		e.fix = fixture.Load(ctx, e.store)
	}
	return e.fix
}
