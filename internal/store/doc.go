// Package store defines the key-value collection interface the pipeline
// persists through, plus typed repositories layered on top of it. Concrete
// backends live under internal/storage; this package must not import
// database drivers.
package store
