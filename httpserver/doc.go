/*
Package httpserver runs the HTTP servers of the replay proxy.

Servers shut down gracefully when their context is cancelled, giving in flight
requests (and the recordings they make) a bounded time to finish. The listener
tracks its connections and reports them as gauges through the system package.
*/
package httpserver
