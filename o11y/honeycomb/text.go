package honeycomb

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/honeycombio/libhoney-go/transmission"
)

// TextSender is a transmission.Sender that writes each event as one human
// readable line:
//
//	15:04:05 <trace> 1.234ms <name> [<outcome>] key=value ...
//
// The outcome is shown only for spans that carry a replay.outcome field.
type TextSender struct {
	mu     sync.Mutex
	w      io.Writer
	colour bool

	responses chan transmission.Response
}

func (t *TextSender) Start() error {
	t.responses = make(chan transmission.Response, 100)
	return nil
}

func (t *TextSender) Stop() error  { return nil }
func (t *TextSender) Flush() error { return nil }

func (t *TextSender) Add(ev *transmission.Event) {
	line := t.format(ev)

	t.mu.Lock()
	_, _ = t.w.Write(line)
	t.mu.Unlock()

	t.SendResponse(transmission.Response{Metadata: ev.Metadata})
}

func (t *TextSender) TxResponses() chan transmission.Response {
	return t.responses
}

// SendResponse drops the response when nobody is reading them.
func (t *TextSender) SendResponse(r transmission.Response) bool {
	select {
	case t.responses <- r:
		return false
	default:
		return true
	}
}

func (t *TextSender) format(ev *transmission.Event) []byte {
	buf := new(bytes.Buffer)
	_, _ = fmt.Fprintf(buf, "%s %s %.3fms %s",
		ev.Timestamp.Format("15:04:05"),
		t.paint(shortTraceID(ev.Data["trace.trace_id"])),
		ev.Data["duration_ms"],
		t.paint(fmt.Sprint(ev.Data["name"])),
	)
	if outcome, ok := ev.Data["replay.outcome"]; ok {
		_, _ = fmt.Fprintf(buf, " [%v]", outcome)
	}

	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		if !hidden(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		label := k
		if k == "error" && t.colour {
			label = highlightError(k)
		}
		_, _ = fmt.Fprintf(buf, " %s=%v", label, ev.Data[k])
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// hidden fields are either in the line prefix or too noisy to print.
func hidden(k string) bool {
	switch k {
	case "name", "version", "service", "duration_ms", "replay.outcome":
		return true
	}
	return strings.HasPrefix(k, "trace.") || strings.HasPrefix(k, "meta.")
}

func shortTraceID(v interface{}) string {
	id, ok := v.(string)
	if !ok || len(id) < 5 {
		return "unkwn"
	}
	return id[len(id)-5:]
}

func (t *TextSender) paint(s string) string {
	if !t.colour {
		return s
	}
	return colourFor(s)
}

// palette holds the 256 colour codes that read well on a dark terminal.
var palette = func() []uint32 {
	var p []uint32
	for c := uint32(9); c <= 231; c++ {
		switch {
		case c > 14 && c < 21, c > 51 && c < 63, c == 145, c == 159:
			continue
		}
		p = append(p, c)
	}
	return p
}()

// colourFor wraps s in the ANSI escapes of a colour picked by hashing s, so the
// same trace or span name always gets the same colour.
func colourFor(s string) string {
	c := palette[crc32.ChecksumIEEE([]byte(s))%uint32(len(palette))]
	return fmt.Sprintf("\033[1;38;5;%dm%s\033[0m", c, s)
}

func highlightError(s string) string {
	return fmt.Sprintf("\033[1;37;41m%s\033[0m", s)
}
