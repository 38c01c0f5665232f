// Command collector accepts insight collection jobs over HTTP and fans each
// job out to one task per source.
//
// Architecture overview:
//   - HTTP API: internal/api serves job submission, job history, live fan-in
//     state, provider webhooks and the bounded result wait, plus /healthz,
//     /readyz and /metrics.
//   - Dispatcher and workers: a job becomes one queued task per source. The
//     queue is in-memory or a Redis list (jobs.queue) and a fixed pool of
//     jobs.concurrency workers consumes it.
//   - Local sources are scraped with colly, per-host rate limited, and each
//     page is archived to the blob store (memory, local or GCS).
//   - Provider sources trigger a Bright Data dataset collection. The provider
//     calls back on /webhooks/{topic}/{correlation_id}; the correlation maps
//     back to the job and the result is recorded.
//   - Fan-in: every source result lands in job state (memory or Redis). The
//     report that completes the job runs the finalizers: Postgres job_runs,
//     the Pub/Sub completion topic, and the completion webhook.
//
// Configuration comes from an optional file (-config), a .env file and
// COLLECTOR_* environment variables, e.g. COLLECTOR_SERVER_PORT,
// COLLECTOR_JOBS_BACKEND=redis, COLLECTOR_REDIS_ADDR,
// COLLECTOR_WEBHOOK_SHARED_SECRET and COLLECTOR_BRIGHTDATA_API_TOKEN.
//
// Run locally: go run ./cmd/collector -config config.yaml
package main
