/*
Package fixture holds recorded request/response pairs and their persisted form.

A Fixture is an ordered list of entries. Entries are only ever appended, never
replaced or de-duplicated, and lookups return the first entry whose request
fingerprint matches.
*/
package fixture

import (
	"context"
	"errors"
	"sync"

	"github.com/circleci/replay/fingerprint"
	"github.com/circleci/replay/o11y"
	"github.com/circleci/replay/storage"
)

// Status is the status line of a recorded response.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is a recorded response. Multi valued headers are kept joined with ", ".
type Response struct {
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
	Status  Status            `json:"status"`
}

// Clone returns a copy sharing no memory with r.
func (r Response) Clone() Response {
	out := Response{Status: r.Status}
	if r.Body != nil {
		out.Body = append([]byte{}, r.Body...)
	}
	if r.Headers != nil {
		out.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

type Entry struct {
	Request  fingerprint.Fingerprint `json:"request"`
	Response Response                `json:"response"`
}

// Fixture is safe for concurrent use. Responses go in and come out as copies,
// so callers can never change a recording.
type Fixture struct {
	mu      sync.RWMutex
	entries []Entry
	// keys[i] is entries[i].Request.Key()
	keys []string
}

// New returns a fixture holding entries, in order.
func New(entries ...Entry) *Fixture {
	f := &Fixture{}
	for _, e := range entries {
		f.appendLocked(e.Request, e.Response)
	}
	return f
}

// Has reports whether any entry matches fp.
func (f *Fixture) Has(fp fingerprint.Fingerprint) bool {
	return f.index(fp.Key()) >= 0
}

// Get returns the response of the first entry matching fp.
func (f *Fixture) Get(fp fingerprint.Fingerprint) (Response, bool) {
	key := fp.Key()

	f.mu.RLock()
	defer f.mu.RUnlock()
	i := f.indexLocked(key)
	if i < 0 {
		return Response{}, false
	}
	return f.entries[i].Response.Clone(), true
}

func (f *Fixture) index(key string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.indexLocked(key)
}

func (f *Fixture) indexLocked(key string) int {
	for i, k := range f.keys {
		if k == key {
			return i
		}
	}
	return -1
}

// Append adds an entry at the end, even when one with the same fingerprint exists.
func (f *Fixture) Append(fp fingerprint.Fingerprint, resp Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendLocked(fp, resp)
}

func (f *Fixture) appendLocked(fp fingerprint.Fingerprint, resp Response) {
	fp = cloneFingerprint(fp)
	f.entries = append(f.entries, Entry{Request: fp, Response: resp.Clone()})
	f.keys = append(f.keys, fp.Key())
}

func cloneFingerprint(fp fingerprint.Fingerprint) fingerprint.Fingerprint {
	fp.Headers = fp.Headers.Clone()
	if fp.Body != nil {
		b := *fp.Body
		fp.Body = &b
	}
	return fp
}

// Entries returns a copy of the entries in recording order.
func (f *Fixture) Entries() []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Entry, len(f.entries))
	for i, e := range f.entries {
		e.Request = cloneFingerprint(e.Request)
		e.Response = e.Response.Clone()
		out[i] = e
	}
	return out
}

func (f *Fixture) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Load reads the fixture held by store. It never fails: a missing, unreadable or
// malformed fixture is traced and an empty fixture returned in its place.
func Load(ctx context.Context, store storage.Store) *Fixture {
	ctx, span := o11y.StartSpan(ctx, "fixture: load")
	defer span.End()
	span.AddField("store", store.String())

	b, err := store.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		span.AddRawField("result", "not_found")
		return New()
	case err != nil:
		o11y.AddResultToSpan(span, o11y.NewWarning(err.Error()))
		return New()
	}

	entries, err := Decode(b)
	if err != nil {
		o11y.AddResultToSpan(span, o11y.NewWarning("malformed fixture: "+err.Error()))
		return New()
	}
	span.AddField("entries", len(entries))
	span.AddRawField("result", "success")
	return New(entries...)
}

// Persist writes the whole fixture to store.
func Persist(ctx context.Context, fix *Fixture, store storage.Store) (err error) {
	ctx, span := o11y.StartSpan(ctx, "fixture: persist")
	defer o11y.End(span, &err)
	span.AddField("store", store.String())

	entries := fix.Entries()
	span.AddField("entries", len(entries))

	b, err := Encode(entries)
	if err != nil {
		return err
	}
	return store.Save(ctx, b)
}
