// Package progress carries job lifecycle events from the coordinator and
// workers to subscribers. A Hub buffers events without blocking emitters,
// batches them on one goroutine (so per-job order is preserved), and fans the
// batches out to sinks such as logs, Prometheus, the job-run repository, and
// a Redis pub/sub channel.
package progress
