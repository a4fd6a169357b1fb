// Package progress provides the typed event stream the scheduler and worker
// launcher publish to. A Hub never blocks emitters: it fans events out to one
// buffered stream per observer and, on a separate goroutine, batches them for
// pluggable sinks such as structured logs, Prometheus metrics or Pub/Sub.
package progress
