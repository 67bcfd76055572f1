// Package api hosts the HTTP server, middleware, and REST handlers for the
// conversion service. Notable routes:
//   - POST /api/convert-page for synchronous single-page conversion.
//   - POST /api/crawl for multi-page conversion with progress streaming.
//   - GET /api/download/{filename} and DELETE /api/cleanup for artifacts.
//   - GET /api/status, /healthz, and /metrics for operators.
//   - GET /ws (and / with an upgrade header) for the real-time channel.
package api
