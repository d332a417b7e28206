// Package api hosts the HTTP server, middleware, and REST handlers for
// operators. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/jobs for submitting URLs, uploading URL files and reading job state.
//   - /v1/sources for connecting relational sources, selecting the URL
//     column, one-shot imports and starting or stopping polling.
package api
