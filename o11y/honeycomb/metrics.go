package honeycomb

import (
	"fmt"
	"time"

	"github.com/circleci/replay/o11y"
)

// metricKey is the span field that carries the metrics recorded on a span
// until the span is sent. It never leaves the process.
const metricKey = "__replay_metrics__"

// metricsHook returns a beeline hook that strips the recorded metrics from a
// span's fields and emits them to mp.
func metricsHook(mp o11y.MetricsProvider) func(map[string]interface{}) {
	return func(fields map[string]interface{}) {
		metrics, _ := fields[metricKey].([]o11y.Metric)
		delete(fields, metricKey)
		if mp == nil {
			return
		}
		for _, m := range metrics {
			emitMetric(mp, m, fields)
		}
	}
}

func emitMetric(mp o11y.MetricsProvider, m o11y.Metric, fields map[string]interface{}) {
	tags := tagsFrom(m.TagFields, fields)
	switch m.Type {
	case o11y.MetricTimer:
		v, ok := lookup(m.Field, fields)
		if !ok {
			return
		}
		if ms, ok := milliseconds(v); ok {
			_ = mp.TimeInMilliseconds(m.Name, ms, tags, 1)
		}
	case o11y.MetricCount:
		_ = mp.Count(m.Name, 1, tags, 1)
	}
}

// tagsFrom formats the named fields as name:value tags, skipping absent ones.
func tagsFrom(names []string, fields map[string]interface{}) []string {
	tags := make([]string, 0, len(names))
	for _, name := range names {
		if v, ok := lookup(name, fields); ok {
			tags = append(tags, fmt.Sprintf("%s:%v", name, v))
		}
	}
	return tags
}

// lookup finds a raw field, or the app. prefixed field of the same name.
func lookup(name string, fields map[string]interface{}) (interface{}, bool) {
	if v, ok := fields[name]; ok {
		return v, true
	}
	v, ok := fields["app."+name]
	return v, ok
}

func milliseconds(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case time.Duration:
		return float64(v.Milliseconds()), true
	}
	return 0, false
}
