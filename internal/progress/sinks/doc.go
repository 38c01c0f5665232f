// Package sinks implements progress.Sink consumers: structured logs,
// Prometheus collectors, the job-run repository, and a Redis pub/sub channel.
package sinks
