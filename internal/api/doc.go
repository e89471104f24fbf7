// Package api hosts the HTTP server, middleware, and REST handlers that sit in
// front of the ranking store and scheduler. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /api/projects for project management and ranking history.
//   - /api/scheduler for status and the manual ranking check.
//   - /api/settings for the scheduler interval.
package api
