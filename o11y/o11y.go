// Package o11y is the tracing and metrics facade used throughout replay.
//
// Every record or replay decision is a span. Locally the spans print as
// readable log lines; when a backend is configured they become traces, and
// spans can carry metrics that are emitted when they end.
package o11y

import (
	"context"
	"errors"
	"io"

	"github.com/DataDog/datadog-go/statsd"
)

type Provider interface {
	// AddGlobalField adds a field to every span, such as the service name or version.
	AddGlobalField(key string, val interface{})

	// StartSpan begins a unit of work named by a short identifier such as
	// "proxy: request" or "storage: save". The caller must end the span:
	//
	//   ctx, span := o11y.StartSpan(ctx, "fixture: load")
	//   defer o11y.End(span, &err)
	StartSpan(ctx context.Context, name string) (context.Context, Span)

	// GetSpan returns the active span of ctx, or nil if there is none.
	GetSpan(ctx context.Context) Span

	// AddField adds a field, prefixed with "app.", to the active span.
	AddField(ctx context.Context, key string, val interface{})

	// AddFieldToTrace adds a field to the root span, from where it is copied
	// to every child span.
	AddFieldToTrace(ctx context.Context, key string, val interface{})

	// Log sends a zero duration event.
	Log(ctx context.Context, name string, fields ...Pair)

	Close(ctx context.Context)

	// MetricsProvider gives direct access to the metrics backend, for values
	// that do not belong to a span.
	MetricsProvider() MetricsProvider
}

type Span interface {
	// AddField adds a field prefixed with "app.".
	AddField(key string, val interface{})

	// AddRawField adds a field without a prefix. It is meant for plumbing
	// fields shared across services, such as result or http.status_code.
	AddRawField(key string, val interface{})

	// RecordMetric asks for metric to be emitted when the span ends.
	RecordMetric(metric Metric)

	// End completes the span. It must not be used afterwards.
	End()
}

type MetricType string

const (
	MetricTimer = "timer"
	MetricCount = "count"
)

// Metric describes a metric derived from span fields when the span ends.
type Metric struct {
	Type MetricType
	Name string
	// Field is the span field holding the value. Counts ignore it.
	Field string
	// TagFields are the span fields sent as tags.
	TagFields []string
}

// Timing records the duration of the span as a timer.
func Timing(name string, tagFields ...string) Metric {
	return Metric{Type: MetricTimer, Name: name, Field: "duration_ms", TagFields: tagFields}
}

// Incr counts the span once.
func Incr(name string, tagFields ...string) Metric {
	return Metric{Type: MetricCount, Name: name, TagFields: tagFields}
}

type MetricsProvider interface {
	TimeInMilliseconds(name string, value float64, tags []string, rate float64) error
	Gauge(name string, value float64, tags []string, rate float64) error
	Count(name string, value int64, tags []string, rate float64) error
}

type ClosableMetricsProvider interface {
	MetricsProvider
	io.Closer
}

// ErrorReporter is implemented by providers that also send errors to an error
// tracker.
type ErrorReporter interface {
	ReportError(ctx context.Context, err error)
}

type providerKey struct{}

// WithProvider returns a child of ctx carrying p.
func WithProvider(ctx context.Context, p Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// FromContext returns the provider carried by ctx. Without one, a provider that
// discards everything is returned.
func FromContext(ctx context.Context) Provider {
	if p, ok := ctx.Value(providerKey{}).(Provider); ok {
		return p
	}
	return defaultProvider
}

func StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return FromContext(ctx).StartSpan(ctx, name)
}

func AddField(ctx context.Context, key string, val interface{}) {
	FromContext(ctx).AddField(ctx, key, val)
}

func AddFieldToTrace(ctx context.Context, key string, val interface{}) {
	FromContext(ctx).AddFieldToTrace(ctx, key, val)
}

func Log(ctx context.Context, name string, fields ...Pair) {
	FromContext(ctx).Log(ctx, name, fields...)
}

// LogError sends a zero duration event describing err. If the provider is an
// ErrorReporter the error is reported too.
func LogError(ctx context.Context, name string, err error, fields ...Pair) {
	if r, ok := FromContext(ctx).(ErrorReporter); ok {
		r.ReportError(ctx, err)
	}
	_, span := StartSpan(ctx, name)
	for _, f := range fields {
		span.AddField(f.Key, f.Value)
	}
	AddResultToSpan(span, err)
	span.End()
}

// End records the result held by err on span and ends it. Pass the address of
// a named return so the deferred call sees the final error:
//
//	defer o11y.End(span, &err)
func End(span Span, err *error) {
	var e error
	if err != nil {
		e = *err
	}
	AddResultToSpan(span, e)
	span.End()
}

// AddResultToSpan sets the result field of span from err. Failures also set
// error; warnings and cancellations set warning instead.
func AddResultToSpan(span Span, err error) {
	switch {
	case err == nil:
		span.AddRawField("result", "success")
	case IsWarning(err):
		span.AddRawField("result", "success")
		span.AddRawField("warning", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		span.AddRawField("result", "canceled")
		span.AddRawField("warning", err.Error())
	default:
		span.AddRawField("result", "error")
		span.AddRawField("error", err.Error())
	}
}

// Pair is a named value added to a span.
type Pair struct {
	Key   string
	Value interface{}
}

func Field(key string, value interface{}) Pair {
	return Pair{Key: key, Value: value}
}

var defaultProvider = &noopProvider{}

type noopProvider struct{}

func (*noopProvider) AddGlobalField(string, interface{}) {}

func (*noopProvider) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (*noopProvider) GetSpan(context.Context) Span                         { return noopSpan{} }
func (*noopProvider) AddField(context.Context, string, interface{})        {}
func (*noopProvider) AddFieldToTrace(context.Context, string, interface{}) {}
func (*noopProvider) Log(context.Context, string, ...Pair)                 {}
func (*noopProvider) Close(context.Context)                                {}

func (*noopProvider) MetricsProvider() MetricsProvider {
	return &statsd.NoOpClient{}
}

type noopSpan struct{}

func (noopSpan) AddField(string, interface{})    {}
func (noopSpan) AddRawField(string, interface{}) {}
func (noopSpan) RecordMetric(Metric)             {}
func (noopSpan) End()                            {}
