/*
Package healthcheck contains the admin API of the replay proxy. It serves the
liveness and readiness checks registered with the system, such as the Redis
fixture store, and the Go runtime's standard pprof functionality.
*/
package healthcheck
