// Package api hosts the HTTP server, middleware, and REST handlers that expose
// feed sessions to remote hosts. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sessions mounts a feed; the returned id addresses it afterwards.
//   - POST /v1/sessions/{id}/viewport reports a scroll position.
//   - GET /v1/sessions/{id}/render returns the rendered document as text.
package api
