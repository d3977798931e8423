// Package honeycomb is the o11y provider built on the honeycomb beeline.
//
// Every span is printed to a writer, stderr unless configured otherwise, as a
// text line or as JSON. Spans are also sent to honeycomb when SendTraces is set.
package honeycomb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/honeycombio/beeline-go"
	"github.com/honeycombio/beeline-go/client"
	"github.com/honeycombio/beeline-go/trace"
	"github.com/honeycombio/dynsampler-go"
	"github.com/honeycombio/libhoney-go"
	"github.com/honeycombio/libhoney-go/transmission"

	"github.com/circleci/replay/o11y"
)

type Config struct {
	Host    string
	Dataset string
	Key     string
	// Format is the local output: text, color (or colour), json or none.
	Format string
	// SendTraces sends spans to the honeycomb API as well as to Writer.
	SendTraces bool
	// Sender replaces the honeycomb API sender, mostly for tests.
	Sender transmission.Sender
	// SampleTraces turns on static per-key sampling of sent spans. Metrics are
	// recorded for every span, kept or not.
	SampleTraces  bool
	SampleKeyFunc func(map[string]interface{}) string
	SampleRates   map[string]int
	Writer        io.Writer
	Metrics       o11y.ClosableMetricsProvider
	ServiceName   string

	Debug bool
}

func (c *Config) Validate() error {
	switch c.Format {
	case "", "text", "color", "colour", "json", "none":
	default:
		return fmt.Errorf("unknown o11y format %q", c.Format)
	}
	// a key is only needed for the default sender
	if c.SendTraces && c.Key == "" && c.Sender == nil && c.Host == "" {
		return errors.New("honeycomb_key key required for honeycomb")
	}
	return nil
}

type provider struct {
	metrics o11y.ClosableMetricsProvider
}

// New initialises the beeline and returns a provider using it. The beeline is
// process wide, so only one provider should be live at a time.
func New(conf Config) o11y.Provider {
	// beeline ignores this error in its own constructor too
	c, _ := libhoney.NewClient(libhoney.ClientConfig{
		APIKey:       conf.Key,
		Dataset:      conf.Dataset,
		APIHost:      conf.Host,
		Transmission: conf.sender(),
	})

	bc := beeline.Config{
		Client:      c,
		Debug:       conf.Debug,
		WriteKey:    conf.Key,
		ServiceName: conf.ServiceName,
	}

	emit := metricsHook(conf.Metrics)
	if conf.SampleTraces {
		s := newSampler(conf.SampleKeyFunc, conf.SampleRates)
		// the presend hook never sees dropped spans, so metrics go out here
		bc.SamplerHook = func(fields map[string]interface{}) (bool, int) {
			emit(fields)
			return s.Hook(fields)
		}
	} else {
		bc.PresendHook = emit
	}

	beeline.Init(bc)

	return &provider{metrics: conf.Metrics}
}

func newSampler(keyFunc func(map[string]interface{}) string, rates map[string]int) *TraceSampler {
	if keyFunc == nil {
		keyFunc = OutcomeKey
	}
	if rates == nil {
		rates = map[string]int{}
	}
	return &TraceSampler{
		KeyFunc: keyFunc,
		Sampler: &dynsampler.Static{Default: 1, Rates: rates},
	}
}

func (p *provider) AddGlobalField(key string, val interface{}) {
	mustValidateKey(key)
	client.AddField(key, val)
}

func (p *provider) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	var s *trace.Span
	if parent := trace.GetSpanFromContext(ctx); parent != nil {
		ctx, s = parent.CreateAsyncChild(ctx)
	} else {
		ctx, _ = trace.NewTrace(ctx, nil)
		s = trace.GetSpanFromContext(ctx)
	}
	s.AddField("name", name)
	return ctx, WrapSpan(s)
}

func (p *provider) GetSpan(ctx context.Context) o11y.Span {
	return WrapSpan(trace.GetSpanFromContext(ctx))
}

func (p *provider) AddField(ctx context.Context, key string, val interface{}) {
	mustValidateKey(key)
	beeline.AddField(ctx, key, val)
}

func (p *provider) AddFieldToTrace(ctx context.Context, key string, val interface{}) {
	mustValidateKey(key)
	beeline.AddFieldToTrace(ctx, key, val)
}

func (p *provider) Log(ctx context.Context, name string, fields ...o11y.Pair) {
	_, s := p.StartSpan(ctx, name)
	for _, f := range fields {
		s.AddField(f.Key, f.Value)
	}
	s.End()
}

// Close flushes pending spans and closes the metrics client.
func (p *provider) Close(context.Context) {
	beeline.Close()
	if p.metrics != nil {
		_ = p.metrics.Close()
	}
}

func (p *provider) MetricsProvider() o11y.MetricsProvider {
	return p.metrics
}

// WrapSpan adapts a beeline span to o11y.Span. A nil span gives a nil Span.
func WrapSpan(s *trace.Span) o11y.Span {
	if s == nil {
		return nil
	}
	return &span{span: s}
}

type span struct {
	span    *trace.Span
	metrics []o11y.Metric
}

func (s *span) AddField(key string, val interface{}) {
	s.AddRawField("app."+key, val)
}

func (s *span) AddRawField(key string, val interface{}) {
	mustValidateKey(key)
	if err, ok := val.(error); ok {
		val = err.Error()
	}
	s.span.AddField(key, val)
}

func (s *span) RecordMetric(metric o11y.Metric) {
	s.metrics = append(s.metrics, metric)
	s.span.AddField(metricKey, s.metrics)
}

func (s *span) End() {
	s.span.Send()
}

// mustValidateKey panics on keys honeycomb and statsd would disagree on.
func mustValidateKey(key string) {
	if strings.Contains(key, "-") {
		panic(fmt.Errorf("key %q cannot contain '-'", key))
	}
}
