// Package sinks holds the progress consumers: structured logs, Prometheus
// collectors and the batch run repository.
package sinks
