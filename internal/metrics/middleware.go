package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Middleware records request count and latency per method, status and
// route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		m.ObserveHTTPRequest(r.Method, routeOf(r), StatusOf(ww, r), time.Since(start))
	})
}

// StatusOf reports the status written through ww. Handlers that never call
// WriteHeader answered 200, unless the connection was taken over for a
// WebSocket upgrade.
func StatusOf(ww middleware.WrapResponseWriter, r *http.Request) int {
	if code := ww.Status(); code != 0 {
		return code
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return http.StatusSwitchingProtocols
	}
	return http.StatusOK
}

func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
