/*
Package worker runs a loop with observability and back-off for when there is no
work. The replay system uses it to publish gauges at a fixed pace.
*/
package worker
