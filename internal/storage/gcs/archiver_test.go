package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestArchiver(t *testing.T, handler http.Handler) *Archiver {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	a, err := New(client, Config{Bucket: "test-bucket", Prefix: "/artifacts/"})
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	return a
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestArchiveUploadsObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "artifacts/2024-05-06/site_single.pdf", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "%PDF-1.4 archived")
		assert.Contains(t, string(body), "application/pdf")
		fmt.Fprintln(w, `{ "name": "artifacts/2024-05-06/site_single.pdf", "bucket": "test-bucket" }`)
	})
	a := newTestArchiver(t, handler)

	uri, err := a.Archive(context.Background(), "site_single.pdf", strings.NewReader("%PDF-1.4 archived"))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/artifacts/2024-05-06/site_single.pdf", uri)
}

func TestArchiveSurfacesErrors(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	a := newTestArchiver(t, handler)

	_, err := a.Archive(context.Background(), "site.pdf", strings.NewReader("data"))
	require.Error(t, err)
	_, err = a.Archive(context.Background(), " ", strings.NewReader("data"))
	require.Error(t, err)
}
