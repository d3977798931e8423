package o11y

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/poll"

	"github.com/circleci/replay/config/secret"
	"github.com/circleci/replay/o11y"
	"github.com/circleci/replay/o11y/honeycomb"
	"github.com/circleci/replay/testing/fakestatsd"
)

func TestSecretsAreRedacted(t *testing.T) {
	buf := bytes.Buffer{}
	provider := honeycomb.New(honeycomb.Config{Writer: &buf})
	ctx := context.Background()

	_, span := provider.StartSpan(ctx, "storage: open")
	span.AddField("secret_key", secret.String("minio123"))
	span.End()
	provider.Close(ctx)

	assert.Check(t, !strings.Contains(buf.String(), "minio123"), buf.String())
	assert.Check(t, cmp.Contains(buf.String(), "REDACTED"))
}

func TestSetup_BadFormat(t *testing.T) {
	_, _, err := Setup(context.Background(), Config{Format: "yaml"})
	assert.Check(t, cmp.ErrorContains(err, `unknown o11y format "yaml"`))
}

func TestSampleKey(t *testing.T) {
	assert.Check(t, cmp.Equal(sampleKey(map[string]interface{}{
		"name":           "http-server proxy: GET /*path",
		"http.route":     "/*path",
		"replay.outcome": "replayed",
	}), "http-server proxy: GET /*path /*path replayed"))
}

func TestSetup_DoesNotError(t *testing.T) {
	ctx := context.Background()
	ctx, cleanup, err := Setup(ctx, Config{
		Statsd:            "127.0.0.1:8125",
		RollbarToken:      "qwertyuiop",
		RollbarDisabled:   true,
		RollbarEnv:        "production",
		RollbarServerRoot: "github.com/circleci/replay",
		HoneycombEnabled:  false,
		HoneycombDataset:  "does-not-exist",
		HoneycombKey:      "1234567890",
		SampleTraces:      false,
		Format:            "color",
		Version:           "1.2.3",
		Service:           "replay",
		StatsNamespace:    "replay",
		Mode:              "record",
		Debug:             true,
	})
	assert.Assert(t, err)
	cleanup(ctx)
}

func TestSetup_ReportsErrors(t *testing.T) {
	ctx := context.Background()
	ctx, cleanup, err := Setup(ctx, Config{
		RollbarToken:    "qwertyuiop",
		RollbarDisabled: true,
		Format:          "none",
		Service:         "replay",
	})
	assert.Assert(t, err)
	defer cleanup(ctx)

	_, ok := o11y.FromContext(ctx).(o11y.ErrorReporter)
	assert.Check(t, ok, "rollbar enabled providers report errors")

	// a disabled rollbar client must swallow reports
	o11y.LogError(ctx, "replay: persist", errors.New("disk full"))
	o11y.LogError(ctx, "replay: persist", o11y.NewWarning("only a warning"))
}

func TestSetup_SendsMetrics(t *testing.T) {
	s := fakestatsd.New(t)

	ctx := context.Background()
	ctx, cleanup, err := Setup(ctx, Config{
		Statsd:                  s.Addr(),
		StatsdTelemetryDisabled: true,
		Format:                  "none",
		Service:                 "replay",
		Version:                 "1.2.3",
		StatsNamespace:          "circleci.replay.",
	})
	assert.Assert(t, err)

	_, span := o11y.StartSpan(ctx, "replay: request")
	span.RecordMetric(o11y.Incr("recordings", "replay.outcome"))
	span.AddRawField("replay.outcome", "recorded")
	span.End()

	// closing flushes the statsd buffer
	cleanup(ctx)

	poll.WaitOn(t, func(t poll.LogT) poll.Result {
		if len(s.Named("circleci.replay.recordings")) == 0 {
			return poll.Continue("no recordings metric in %v", s.Metrics())
		}
		return poll.Success()
	})
	for _, m := range s.Named("circleci.replay.recordings") {
		assert.Check(t, cmp.Equal(m.Value, "1"))
		assert.Check(t, cmp.Equal(m.Type, "c"))
		assert.Check(t, cmp.Contains(m.Tags, "service:replay"))
		assert.Check(t, cmp.Contains(m.Tags, "replay.outcome:recorded"))
	}
}
