// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Trigger event ingestion (push, pull request, manual)
//   - Run status and result queries
//   - Run cancellation
//   - Health checks
//   - Prometheus metrics
package http
