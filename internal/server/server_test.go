package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitepdf/internal/config"
	"github.com/JakeFAU/sitepdf/internal/pipeline"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server:   config.ServerConfig{Port: 3000, MaxBodyBytes: 1 << 20, ShutdownTimeoutSeconds: 1},
		Output:   config.OutputConfig{Dir: t.TempDir(), InlineGraceMS: 0},
		Crawler:  config.CrawlerConfig{UserAgent: "sitepdf-test", MaxDepthDefault: 2, MaxPagesDefault: 5, TimeoutSeconds: 5},
		Render:   config.RenderConfig{Backend: config.BackendFPDF, TimeoutSeconds: 10, Paper: "A4"},
		Progress: config.ProgressConfig{LogEnabled: true, BufferSize: 16},
	}
}

func TestBuild_ServesOperationalRoutes(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	for _, path := range []string{"/healthz", "/api/status", "/metrics"} {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestBuild_RejectsUnknownPaper(t *testing.T) {
	cfg := testConfig(t)
	cfg.Render.Paper = "A0"

	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestApp_ConvertFallbackAndCleanup(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	res, err := app.Convert(context.Background(), pipeline.Job{
		URL:  "https://example.com",
		Mode: pipeline.Fallback,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalPages)
	info, err := os.Stat(res.Path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), res.FileSize)
	assert.Contains(t, res.Filename, "example_com_single_")

	n, err := app.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = app.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
