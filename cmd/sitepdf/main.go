// Package main is the sitepdf executable. It converts websites to PDF either
// as an HTTP + WebSocket service (serve) or as one-shot CLI jobs (convert,
// cleanup).
//
// Configuration comes from an optional YAML file (--config) overlaid with
// SITEPDF_* environment variables, e.g. SITEPDF_SERVER_PORT=8080 or
// SITEPDF_RENDER_BACKEND=fpdf.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
