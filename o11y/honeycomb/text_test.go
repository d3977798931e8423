package honeycomb

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/honeycombio/libhoney-go/transmission"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestTextSender(t *testing.T) {
	at := time.Date(2024, 3, 4, 10, 15, 2, 137602525, time.UTC)
	const traceID = "9e020857-1248-431f-b2dd-f1541bd1e113"

	tests := []struct {
		name string
		data map[string]interface{}
		want string
	}{
		{
			name: "replayed request",
			data: map[string]interface{}{
				"app.fingerprint":      "GET http://example.com/items",
				"app.fixture":          "items",
				"duration_ms":          0.075231,
				"meta.beeline_version": "1.11.1",
				"name":                 "proxy: request",
				"replay.outcome":       "replayed",
				"service":              "replay",
				"trace.span_id":        "29d98eb0-81c0-4538-a8b5-8296ff40563f",
				"trace.trace_id":       traceID,
				"version":              "dev",
			},
			want: "10:15:02 1e113 0.075ms proxy: request [replayed] app.fingerprint=GET http://example.com/items app.fixture=items\n",
		},
		{
			name: "server start",
			data: map[string]interface{}{
				"app.address":     "127.0.0.1:7624",
				"app.server_name": "proxy",
				"duration_ms":     0.577148,
				"name":            "httpserver: start proxy",
				"trace.trace_id":  traceID,
			},
			want: "10:15:02 1e113 0.577ms httpserver: start proxy app.address=127.0.0.1:7624 app.server_name=proxy\n",
		},
		{
			name: "error",
			data: map[string]interface{}{
				"duration_ms":    1.455143,
				"error":          "no recording",
				"name":           "proxy: request",
				"result":         "error",
				"trace.trace_id": traceID,
			},
			want: "10:15:02 1e113 1.455ms proxy: request error=no recording result=error\n",
		},
		{
			name: "no trace",
			data: map[string]interface{}{
				"duration_ms": 0.0,
				"name":        "proxy: started",
			},
			want: "10:15:02 unkwn 0.000ms proxy: started\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			s := &TextSender{w: buf}
			s.Add(&transmission.Event{Timestamp: at, Data: tt.data})
			assert.Check(t, cmp.Equal(buf.String(), tt.want))
		})
	}
}

func TestTextSender_Colour(t *testing.T) {
	buf := new(bytes.Buffer)
	s := &TextSender{w: buf, colour: true}
	assert.Assert(t, s.Start())

	s.Add(&transmission.Event{Data: map[string]interface{}{
		"name":        "proxy: request",
		"duration_ms": 1.0,
		"error":       "boom",
	}})

	out := buf.String()
	assert.Check(t, cmp.Contains(out, colourFor("proxy: request")))
	assert.Check(t, cmp.Contains(out, highlightError("error")+"=boom"))
	assert.Check(t, strings.HasSuffix(out, "\n"))

	assert.Check(t, cmp.Len(s.TxResponses(), 1), "a response is queued per event")
}

func TestColourFor_Stable(t *testing.T) {
	assert.Check(t, cmp.Equal(colourFor("items"), colourFor("items")))
	assert.Check(t, strings.HasPrefix(colourFor("items"), "\033[1;38;5;"))
	assert.Check(t, strings.HasSuffix(colourFor("items"), "items\033[0m"))
}
