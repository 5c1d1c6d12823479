// Package progress carries crawl and batch lifecycle events from the
// orchestrator and batch runner to pluggable sinks. Emit never blocks; a
// background goroutine batches events and fans them out to sinks such as
// structured logs, Prometheus collectors or the batch run repository.
package progress
