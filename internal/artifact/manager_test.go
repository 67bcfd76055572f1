package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitepdf/internal/hash/sha256"
)

func newTestManager(t *testing.T, grace time.Duration, archiver Archiver) *Manager {
	t.Helper()
	m, err := NewManager(Config{Dir: t.TempDir(), InlineGrace: grace}, archiver, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func samplePDF(t *testing.T, pages int) []byte {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 12)
	for i := 0; i < pages; i++ {
		pdf.AddPage()
		pdf.Cell(40, 10, "page")
	}
	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

func TestNewManagerCreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "output")
	m, err := NewManager(Config{Dir: dir}, nil, nil)
	require.NoError(t, err)
	info, err := os.Stat(m.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Config{}, nil, nil)
	require.Error(t, err)
	_, err = NewManager(Config{Dir: t.TempDir(), InlineGrace: -time.Second}, nil, nil)
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain")
	writeFile(t, file, []byte("x"))
	_, err = NewManager(Config{Dir: file}, nil, nil)
	require.Error(t, err)
}

func TestReserveUniquifies(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second, nil)
	first, err := m.Reserve("site_single_ts.pdf")
	require.NoError(t, err)
	second, err := m.Reserve("site_single_ts.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Dir(), "site_single_ts.pdf"), first)
	assert.Equal(t, filepath.Join(m.Dir(), "site_single_ts_2.pdf"), second)

	writeFile(t, first, []byte("pdf"))
	_, err = m.Materialize(context.Background(), first)
	require.NoError(t, err)
	third, err := m.Reserve("site_single_ts.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Dir(), "site_single_ts_3.pdf"), third)

	_, err = m.Reserve("../escape.pdf")
	require.Error(t, err)
}

func TestMaterializeReportsSizeAndPages(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second, nil)
	path, err := m.Reserve("doc.pdf")
	require.NoError(t, err)
	data := samplePDF(t, 2)
	writeFile(t, path, data)

	art, err := m.Materialize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "doc.pdf", art.Name)
	assert.Equal(t, int64(len(data)), art.Size)
	assert.Equal(t, 2, art.Pages)
	assert.Equal(t, sha256.Hash(data), art.SHA256)
}

func TestMaterializeMissingFile(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second, nil)
	_, err := m.Materialize(context.Background(), filepath.Join(m.Dir(), "missing.pdf"))
	require.Error(t, err)
	_, err = m.Materialize(context.Background(), filepath.Join(t.TempDir(), "elsewhere.pdf"))
	require.Error(t, err)
}

type recordingArchiver struct {
	mu    sync.Mutex
	names []string
	data  [][]byte
	err   error
}

func (a *recordingArchiver) Archive(_ context.Context, name string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.names = append(a.names, name)
	a.data = append(a.data, data)
	if a.err != nil {
		return "", a.err
	}
	return "mem://" + name, nil
}

func TestMaterializeArchives(t *testing.T) {
	t.Parallel()

	archiver := &recordingArchiver{}
	m := newTestManager(t, time.Second, archiver)
	path, err := m.Reserve("doc.pdf")
	require.NoError(t, err)
	writeFile(t, path, []byte("%PDF-1.4"))

	_, err = m.Materialize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc.pdf"}, archiver.names)
	assert.Equal(t, [][]byte{[]byte("%PDF-1.4")}, archiver.data)

	archiver.err = errors.New("bucket gone")
	path, err = m.Reserve("other.pdf")
	require.NoError(t, err)
	writeFile(t, path, []byte("%PDF-1.4"))
	_, err = m.Materialize(context.Background(), path)
	require.NoError(t, err, "archive failures are not fatal")
}

func TestServeInlineDeletesAfterGrace(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, 200*time.Millisecond, nil)
	path, err := m.Reserve("inline.pdf")
	require.NoError(t, err)
	writeFile(t, path, []byte("inline-bytes"))
	art, err := m.Materialize(context.Background(), path)
	require.NoError(t, err)

	var served []byte
	require.NoError(t, m.ServeInline(art, func(data []byte) error {
		served = data
		return nil
	}))
	assert.Equal(t, []byte("inline-bytes"), served)
	assert.FileExists(t, path)
	assert.Equal(t, 1, m.Pending())

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return errors.Is(err, os.ErrNotExist)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, m.Pending())
}

func TestServeInlineReleasesOnServeError(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, 0, nil)
	path, err := m.Reserve("broken.pdf")
	require.NoError(t, err)
	writeFile(t, path, []byte("x"))
	art, err := m.Materialize(context.Background(), path)
	require.NoError(t, err)

	err = m.ServeInline(art, func([]byte) error { return errors.New("client went away") })
	require.Error(t, err)
	assert.NoFileExists(t, path)
}

func TestCloseFlushesPendingDeletions(t *testing.T) {
	t.Parallel()

	m, err := NewManager(Config{Dir: t.TempDir(), InlineGrace: time.Hour}, nil, nil)
	require.NoError(t, err)
	path, err := m.Reserve("later.pdf")
	require.NoError(t, err)
	writeFile(t, path, []byte("x"))
	art, err := m.Materialize(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, m.ServeInline(art, func([]byte) error { return nil }))
	assert.FileExists(t, path)

	require.NoError(t, m.Close())
	assert.NoFileExists(t, path)
	assert.Zero(t, m.Pending())
}

func TestOpenByStoredName(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second, nil)
	writeFile(t, filepath.Join(m.Dir(), "known.pdf"), []byte("known"))
	f, info, err := m.Open("known.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)
	assert.Equal(t, []byte("known"), data)
	assert.Equal(t, "known.pdf", info.Name())

	require.NoError(t, os.Mkdir(filepath.Join(m.Dir(), "sub.pdf"), 0o750))
	outside := filepath.Join(filepath.Dir(m.Dir()), "secret.pdf")
	writeFile(t, outside, []byte("secret"))

	for _, name := range []string{"missing.pdf", "", "..", "../secret.pdf", "sub.pdf", `..\secret.pdf`} {
		_, _, err := m.Open(name)
		require.ErrorIs(t, err, ErrNotFound, name)
	}
}

func TestReserveReturnsFilesystemErrors(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second, nil)
	tooLong := strings.Repeat("a", 300) + "_single_2024-03-01_10-20-30.pdf"

	done := make(chan error, 1)
	go func() {
		_, err := m.Reserve(tooLong)
		done <- err
	}()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Reserve did not return for an over-long name")
	}

	path, err := m.Reserve("after.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Dir(), "after.pdf"), path)
}

func TestReserveGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second, nil)
	for i := 0; i < maxReserveAttempts; i++ {
		_, err := m.Reserve("busy.pdf")
		require.NoError(t, err)
	}
	_, err := m.Reserve("busy.pdf")
	require.ErrorContains(t, err, "no free artifact name")
}

func TestCleanupAllIsIdempotent(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Hour, nil)
	for _, name := range []string{"a.pdf", "b.pdf", "c.PDF"} {
		writeFile(t, filepath.Join(m.Dir(), name), []byte(name))
	}
	writeFile(t, filepath.Join(m.Dir(), "notes.txt"), []byte("keep"))
	art, err := m.Materialize(context.Background(), filepath.Join(m.Dir(), "a.pdf"))
	require.NoError(t, err)
	require.NoError(t, m.ServeInline(art, func([]byte) error { return nil }))

	deleted, err := m.CleanupAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.Zero(t, m.Pending())
	assert.FileExists(t, filepath.Join(m.Dir(), "notes.txt"))

	deleted, err = m.CleanupAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestDiscardRemovesFile(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second, nil)
	path, err := m.Reserve("partial.pdf")
	require.NoError(t, err)
	writeFile(t, path, []byte("partial"))
	m.Discard(path)
	assert.NoFileExists(t, path)

	again, err := m.Reserve("partial.pdf")
	require.NoError(t, err)
	assert.Equal(t, path, again)
}
