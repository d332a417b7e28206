// Package sinks contains progress.Sink implementations: structured logs,
// Prometheus collectors, and completion notifications through a Publisher.
package sinks
