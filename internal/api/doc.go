// Package api hosts the HTTP server, middleware, and handlers. Notable routes,
// all below the configured prefix except the probes and /metrics:
//   - POST /webhooks/{topic} and /webhooks/{topic}/{correlation_id} for
//     provider callbacks.
//   - GET /webhooks/{topic}/{job_id}/result for bounded waits.
//   - POST /jobs, GET /jobs, GET /jobs/{job_id} and GET /jobs/{job_id}/state.
//   - GET /healthz, /readyz and /metrics.
package api
