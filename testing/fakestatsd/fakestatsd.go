// Package fakestatsd is a UDP listener that decodes the datagrams a statsd
// client sends, so tests can assert on the metrics a component emits.
package fakestatsd

import (
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
)

// Metric is one decoded statsd line, e.g. "name:1|c|#tag:a".
type Metric struct {
	Name  string
	Value string
	// Type is the statsd type code: c, g, ms, h, d or s.
	Type string
	Rate string
	Tags []string
}

type Server struct {
	conn *net.UDPConn

	mu      sync.Mutex
	metrics []Metric
}

// New listens on a free localhost port until the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	assert.Assert(t, err)

	s := &Server{conn: conn}
	go s.serve()
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return s
}

func (s *Server) Addr() string {
	return s.conn.LocalAddr().String()
}

// Metrics returns a copy of everything received so far.
func (s *Server) Metrics() []Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Metric(nil), s.metrics...)
}

// Named returns the received metrics called name.
func (s *Server) Named(name string) []Metric {
	var out []Metric
	for _, m := range s.Metrics() {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = nil
}

func (s *Server) serve() {
	buf := make([]byte, 64*1024)
	for {
		n, err := s.conn.Read(buf)
		if errors.Is(err, net.ErrClosed) {
			return
		}
		var got []Metric
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			if m, ok := parse(strings.TrimSpace(line)); ok {
				got = append(got, m)
			}
		}
		s.mu.Lock()
		s.metrics = append(s.metrics, got...)
		s.mu.Unlock()
	}
}

func parse(line string) (Metric, bool) {
	name, rest, ok := strings.Cut(line, ":")
	if !ok || name == "" {
		return Metric{}, false
	}
	parts := strings.Split(rest, "|")
	if len(parts) < 2 {
		return Metric{}, false
	}
	m := Metric{Name: name, Value: parts[0], Type: parts[1]}
	for _, p := range parts[2:] {
		switch {
		case strings.HasPrefix(p, "@"):
			m.Rate = p[1:]
		case strings.HasPrefix(p, "#"):
			m.Tags = strings.Split(p[1:], ",")
		}
	}
	return m, true
}
