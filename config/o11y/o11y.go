// Package o11y builds the observability provider used by the replay binary
// from its command line flags.
package o11y

import (
	"context"
	"fmt"
	"os"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rollbar/rollbar-go"

	"github.com/circleci/replay/config/secret"
	"github.com/circleci/replay/o11y"
	"github.com/circleci/replay/o11y/honeycomb"
)

type Config struct {
	// Statsd is the host:port of the statsd agent. Metrics are dropped when it is empty.
	Statsd            string
	RollbarToken      secret.String
	RollbarEnv        string
	RollbarServerRoot string
	HoneycombEnabled  bool
	HoneycombDataset  string
	HoneycombKey      secret.String
	SampleTraces      bool
	SampleKeyFunc     func(map[string]interface{}) string
	SampleRates       map[string]int
	Format            string
	Version           string
	Service           string
	StatsNamespace    string

	// Mode is the proxy mode, added to every event and metric when set.
	Mode                    string
	Debug                   bool
	RollbarDisabled         bool
	StatsdTelemetryDisabled bool
}

// Setup returns a context carrying the configured provider, and the func that
// flushes and closes it.
func Setup(ctx context.Context, o Config) (context.Context, func(context.Context), error) {
	hc, err := honeycombConfig(o)
	if err != nil {
		return nil, nil, err
	}

	hostname, _ := os.Hostname()

	hc.Metrics, err = statsdClient(o, hostname)
	if err != nil {
		return nil, nil, fmt.Errorf("statsd: %w", err)
	}

	var p o11y.Provider = honeycomb.New(hc)
	for k, v := range globalFields(o) {
		p.AddGlobalField(k, v)
	}

	if o.RollbarToken.IsSet() {
		client := rollbar.NewAsync(o.RollbarToken.Raw(), o.RollbarEnv, o.Version, hostname, o.RollbarServerRoot)
		client.SetEnabled(!o.RollbarDisabled)
		client.Message(rollbar.INFO, "replay started")
		p = reportingProvider{Provider: p, rollbar: client}
	}

	return o11y.WithProvider(ctx, p), p.Close, nil
}

func globalFields(o Config) map[string]interface{} {
	f := map[string]interface{}{
		"service": o.Service,
		"version": o.Version,
	}
	if o.Mode != "" {
		f["mode"] = o.Mode
	}
	return f
}

func statsdClient(o Config, hostname string) (o11y.ClosableMetricsProvider, error) {
	if o.Statsd == "" {
		return &statsd.NoOpClient{}, nil
	}

	tags := []string{
		"service:" + o.Service,
		"version:" + o.Version,
		"hostname:" + hostname,
	}
	if o.Mode != "" {
		tags = append(tags, "mode:"+o.Mode)
	}

	opts := []statsd.Option{
		statsd.WithNamespace(o.StatsNamespace),
		statsd.WithTags(tags),
	}
	if o.StatsdTelemetryDisabled {
		opts = append(opts, statsd.WithoutTelemetry())
	}
	return statsd.New(o.Statsd, opts...)
}

// reportingProvider sends errors logged through o11y.LogError to rollbar.
type reportingProvider struct {
	o11y.Provider
	rollbar *rollbar.Client
}

func (p reportingProvider) Close(ctx context.Context) {
	p.Provider.Close(ctx)
	_ = p.rollbar.Close()
}

// ReportError forwards err to rollbar. Warnings are traced but not reported.
func (p reportingProvider) ReportError(_ context.Context, err error) {
	if err == nil || o11y.IsWarning(err) {
		return
	}
	p.rollbar.ErrorWithLevel(rollbar.ERR, err)
}

// sampleKey groups proxy events by route and outcome so that rare outcomes,
// such as replay misses, are kept when common ones are sampled away.
func sampleKey(fields map[string]interface{}) string {
	return fmt.Sprintf("%s %s %v", fields["name"], fields["http.route"], fields["replay.outcome"])
}

func honeycombConfig(o Config) (honeycomb.Config, error) {
	keyFunc := o.SampleKeyFunc
	if keyFunc == nil {
		keyFunc = sampleKey
	}

	conf := honeycomb.Config{
		Dataset:       o.HoneycombDataset,
		Key:           o.HoneycombKey.Raw(),
		Format:        o.Format,
		SendTraces:    o.HoneycombEnabled,
		SampleTraces:  o.SampleTraces,
		SampleKeyFunc: keyFunc,
		SampleRates:   o.SampleRates,
		Debug:         o.Debug,
	}
	return conf, conf.Validate()
}
