// Package progress provides job lifecycle events, a non-blocking batching hub,
// and the Sink/Emitter contracts that connect workers to observers such as
// logs, Prometheus, and completion notifications.
package progress
