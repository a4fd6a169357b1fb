// Package main hosts the scrape-queue service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, submission and queue control endpoints plus the
//     websocket (/v1/events) and Server-Sent Events (/v1/events/stream) observer streams.
//   - Scheduler: internal/dispatcher.Engine owns the pending FIFO, the running set and the completed log. It admits
//     pending jobs while running < concurrency and accepts ceiling changes at runtime.
//   - Workers: each admitted job gets a private work directory and two subprocesses, scrapeworker then
//     convertworker. Converted files are uploaded to the configured artifact store (local, GCS or memory).
//   - Events: every queue mutation and stage transition goes through internal/progress.Hub, which fans out to
//     observers and batches to sinks (zap log, Prometheus, optional Pub/Sub completion notices).
//
// Quick checklist:
//   - Configure env vars with the SCRAPEQ_ prefix (SCRAPEQ_SERVER_PORT, SCRAPEQ_SCHEDULER_CONCURRENCY,
//     SCRAPEQ_WORKER_SCRAPE_COMMAND, SCRAPEQ_STORAGE_BACKEND, SCRAPEQ_PUBSUB_TOPIC_NAME, ...).
//   - Put scrapeworker and convertworker on PATH, or point worker.scrape_command / worker.convert_command at them.
//   - Run locally: go run ./cmd/scrapequeue -config config.yaml -batch refs.txt -autostart
package main
