package httpserver

import (
	"context"
	"net"
	"sync"
)

var _ net.Listener = (*trackedListener)(nil)

// trackedListener counts the connections it accepts, in total and per remote
// host, until each is closed.
type trackedListener struct {
	net.Listener
	name string

	mu       sync.Mutex
	accepted int
	active   int
	remotes  map[string]int
}

func (l *trackedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	host := remoteHost(conn)
	l.track(host, 1)
	return &trackedConn{Conn: conn, untrack: func() { l.track(host, -1) }}, nil
}

func (l *trackedListener) track(host string, delta int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remotes == nil {
		l.remotes = map[string]int{}
	}
	if delta > 0 {
		l.accepted += delta
	}
	l.active += delta
	l.remotes[host] += delta
	if l.remotes[host] <= 0 {
		delete(l.remotes, host)
	}
}

func (l *trackedListener) MetricName() string {
	return l.name + "-listener"
}

// Gauges include the busiest and quietest remote, which shows whether the test
// runners sharing the proxy spread their load.
func (l *trackedListener) Gauges(context.Context) map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	least, most := 0, 0
	first := true
	for _, n := range l.remotes {
		if first || n < least {
			least = n
		}
		if n > most {
			most = n
		}
		first = false
	}
	return map[string]float64{
		"number_of_remotes":          float64(len(l.remotes)),
		"total_connections":          float64(l.accepted),
		"active_connections":         float64(l.active),
		"max_connections_per_remote": float64(most),
		"min_connections_per_remote": float64(least),
	}
}

// remoteHost is the remote address without its port. Unix sockets have no
// host, so all their connections share one.
func remoteHost(c net.Conn) string {
	addr := c.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

type trackedConn struct {
	net.Conn
	untrack func()
	once    sync.Once
}

// Close untracks the connection once, even when both the server and a
// hijacking handler close it.
func (c *trackedConn) Close() error {
	c.once.Do(c.untrack)
	return c.Conn.Close()
}
