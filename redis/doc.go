/*
Package redis contains wiring and observability for the go-redis Redis client
used by the redis fixture store.

There is support for:
- TLS with an embedded root CA bundle
- connection pool gauges
- health checks
*/
package redis
