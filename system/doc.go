/*
Package system manages the startup, running, metrics and shutdown of the replay
proxy.

The proxy runs a few things in the background (the proxy and admin HTTP servers
and a metrics loop) and must shut down cleanly when told to, after a short delay
so that in flight recordings finish and are persisted.
*/
package system
