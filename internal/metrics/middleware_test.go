package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByStatus(t *testing.T) {
	t.Parallel()

	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/download/{filename}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, path := range []string{"/healthz", "/api/download/missing.pdf"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "404")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.httpRequestDurationSeconds))
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	upgrade := httptest.NewRequest(http.MethodGet, "/ws", nil)
	upgrade.Header.Set("Upgrade", "websocket")

	ww := middleware.NewWrapResponseWriter(httptest.NewRecorder(), 1)
	assert.Equal(t, http.StatusOK, StatusOf(ww, plain))
	assert.Equal(t, http.StatusSwitchingProtocols, StatusOf(ww, upgrade))

	ww.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, StatusOf(ww, upgrade))
}
