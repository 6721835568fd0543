// Package api hosts the read-only HTTP server over the AI document table.
// Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/ai_documents for filtered, sorted and paged listings.
package api
