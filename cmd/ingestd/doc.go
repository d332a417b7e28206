// Package main hosts the ingestd entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts single URLs and uploaded URL files, exposes job status, and manages
//     SQLite/PostgreSQL source connections, selections and polling loops.
//   - Dispatcher & queue: every accepted URL becomes a queued job in the in-memory job store and is pushed onto a
//     bounded queue sized by workers.queue_depth. A fixed pool of workers.concurrency workers drains it; a full queue
//     blocks submitters for at most workers.enqueue_timeout_seconds before the job is marked failed.
//   - Fetch pipeline: workers probe each URL with the Colly fetcher, optionally promote script-heavy pages to a
//     headless Chromedp fetch, and convert the body to Markdown plus title/viewport metadata.
//   - Sources: a poller per source reads rows whose key is above its cursor, dispatches one job per non-empty value,
//     and workers append each terminal job to the source's output table.
//   - Plumbing: Viper populates config from file and INGEST_* env vars; zap provides structured logging; Prometheus
//     metrics are served on /metrics; progress events fan out to log, Prometheus and Pub/Sub sinks.
//
// Quick checklist:
//   - Serve: go run ./cmd/ingestd serve --config config.yaml
//   - One-shot: go run ./cmd/ingestd run --file urls.txt > results.jsonl
package main
