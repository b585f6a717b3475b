// Package api serves the HTTP surface: POST /submit for task payloads,
// GET /status and /databases for reports, /healthz, and /metrics.
package api
