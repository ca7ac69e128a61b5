// Package api hosts the HTTP server, middleware, and REST handlers for
// callers of the stream finder. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /find to submit a resolution task.
//   - GET /find/{task_id} to poll task status and results.
package api
