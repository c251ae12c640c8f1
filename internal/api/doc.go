// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - POST /api/support to submit a question, answered asynchronously.
//   - GET /api/support/status/{job_id} to poll a job.
//   - POST /api/webhook for signed Plain deliveries.
//   - GET /health, /healthz and /metrics for probes and scraping.
package api
