// Package api hosts the HTTP server, middleware, and REST handlers for the
// extraction service. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/extractions to submit a job; GET status/results and POST
//     cancel under /v1/extractions/{job_id}.
//   - GET /v1/extractions for newest-first job summaries.
//
// All /v1 routes optionally require an X-API-Key header.
package api
