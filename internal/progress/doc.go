// Package progress carries job lifecycle events from workers to sinks. Events
// are batched on a background goroutine so emitting never blocks the pipeline.
package progress
