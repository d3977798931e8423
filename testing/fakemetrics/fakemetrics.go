// Package fakemetrics is an in-memory o11y.ClosableMetricsProvider that records
// every call, so tests can assert on the metrics a span or loop emitted.
package fakemetrics

import (
	"fmt"
	"sync"

	gocmp "github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type MetricCall struct {
	Metric   string
	Name     string
	Value    float64
	ValueInt int64
	Tags     []string
	Rate     float64
}

// CMPMetrics compares calls regardless of order, with timer values treated as
// equal when within 10ms.
var CMPMetrics = gocmp.Options{
	cmpopts.EquateApprox(0, 10),
	cmpopts.SortSlices(func(x, y MetricCall) bool {
		return x.key() < y.key()
	}),
}

func (c MetricCall) key() string {
	return fmt.Sprintf("%s|%s|%s", c.Metric, c.Name, c.Tags)
}

type Provider struct {
	mu    sync.Mutex
	calls []MetricCall
}

// Calls returns a copy of every call received so far.
func (p *Provider) Calls() []MetricCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]MetricCall(nil), p.calls...)
}

// Named returns the calls for the given metric names only.
func (p *Provider) Named(names ...string) []MetricCall {
	var out []MetricCall
	for _, c := range p.Calls() {
		for _, n := range names {
			if c.Name == n {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (p *Provider) record(c MetricCall) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
	return nil
}

func (p *Provider) TimeInMilliseconds(name string, value float64, tags []string, rate float64) error {
	return p.record(MetricCall{Metric: "timer", Name: name, Value: value, Tags: tags, Rate: rate})
}

func (p *Provider) Gauge(name string, value float64, tags []string, rate float64) error {
	return p.record(MetricCall{Metric: "gauge", Name: name, Value: value, Tags: tags, Rate: rate})
}

func (p *Provider) Count(name string, value int64, tags []string, rate float64) error {
	return p.record(MetricCall{Metric: "count", Name: name, ValueInt: value, Tags: tags, Rate: rate})
}

func (p *Provider) Close() error {
	return nil
}
