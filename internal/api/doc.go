// Package api hosts the HTTP server, middleware, and handlers for operator
// access. Notable routes:
//   - POST /v1/jobs to submit references.
//   - GET /v1/queue and POST /v1/queue/{start,stop,clear} to drive processing.
//   - PUT /v1/queue/concurrency to change the worker ceiling.
//   - GET /v1/events (websocket) and /v1/events/stream (SSE) for live progress.
//   - GET /healthz, /readyz, /metrics for health checks and Prometheus scraping.
package api
