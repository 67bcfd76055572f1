package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/sitepdf/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{
		{JobID: "job-a", TS: time.Now(), Type: progress.TypeProgress, Data: progress.Update{URL: "https://example.com"}},
		{JobID: "job-a", TS: time.Now(), Type: progress.TypeProgress, Data: progress.Update{URL: "https://example.com/a"}},
		{JobID: "job-a", TS: time.Now(), Type: progress.TypePDFProgress, Data: progress.Update{Percentage: 50}},
		{JobID: "job-b", TS: time.Now(), Type: progress.TypeProgress, Data: progress.Update{Message: "starting"}},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.crawledPages))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-a", Type: progress.TypeComplete, Data: progress.Summary{FileSize: 2048, TotalPages: 2}},
		{JobID: "job-b", Type: progress.TypeError, Data: progress.Failure{Message: "boom"}},
	}))

	require.Equal(t, 3.0, testutil.ToFloat64(sink.events.WithLabelValues("progress")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues("pdf_progress")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1, testutil.CollectAndCount(sink.artifactSize, "sitepdf_progress_artifact_bytes"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkWritesStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", Type: progress.TypeProgress, Data: progress.Update{Message: "fetched", URL: "https://example.com"}},
		{JobID: "job-1", Type: progress.TypeError, Data: progress.Failure{Message: "boom"}},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "https://example.com", entries[0].ContextMap()["url"])
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, "boom", entries[1].ContextMap()["error"])
}
