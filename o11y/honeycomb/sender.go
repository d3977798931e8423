package honeycomb

import (
	"os"

	"github.com/honeycombio/libhoney-go"
	"github.com/honeycombio/libhoney-go/transmission"
)

// sender builds the fan out of every destination a span should reach.
func (c *Config) sender() transmission.Sender {
	w := c.Writer
	if w == nil {
		w = os.Stderr
	}

	var s MultiSender
	if c.SendTraces {
		api := c.Sender
		if api == nil {
			api = &transmission.Honeycomb{
				MaxBatchSize:         libhoney.DefaultMaxBatchSize,
				BatchTimeout:         libhoney.DefaultBatchTimeout,
				MaxConcurrentBatches: libhoney.DefaultMaxConcurrentBatches,
				PendingWorkCapacity:  libhoney.DefaultPendingWorkCapacity,
				UserAgentAddition:    c.ServiceName,
			}
		}
		s.Senders = append(s.Senders, api)
	}

	switch c.Format {
	case "none":
	case "text":
		s.Senders = append(s.Senders, &TextSender{w: w})
	case "color", "colour":
		s.Senders = append(s.Senders, &TextSender{w: w, colour: true})
	default:
		s.Senders = append(s.Senders, &transmission.WriterSender{W: w})
	}
	return &s
}

// MultiSender hands every event to each of Senders. Responses come from the
// first sender only.
type MultiSender struct {
	Senders []transmission.Sender
}

func (m *MultiSender) each(f func(transmission.Sender) error) error {
	for _, s := range m.Senders {
		if err := f(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSender) Start() error {
	return m.each(transmission.Sender.Start)
}

func (m *MultiSender) Stop() error {
	return m.each(transmission.Sender.Stop)
}

func (m *MultiSender) Flush() error {
	return m.each(transmission.Sender.Flush)
}

func (m *MultiSender) Add(ev *transmission.Event) {
	for _, s := range m.Senders {
		s.Add(ev)
	}
}

func (m *MultiSender) TxResponses() chan transmission.Response {
	if len(m.Senders) == 0 {
		return nil
	}
	return m.Senders[0].TxResponses()
}

func (m *MultiSender) SendResponse(r transmission.Response) bool {
	if len(m.Senders) == 0 {
		return false
	}
	return m.Senders[0].SendResponse(r)
}
