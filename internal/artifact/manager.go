// Package artifact manages generated PDF files in the output directory:
// naming, materialization, inline serving with deferred release, download by
// name and bulk cleanup.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitepdf/internal/hash/sha256"
	"github.com/JakeFAU/sitepdf/internal/logging"
	"github.com/JakeFAU/sitepdf/internal/pipeline"
)

// ErrNotFound reports that no artifact exists under the requested name.
var ErrNotFound = errors.New("artifact not found")

// DefaultInlineGrace is the delay between inline serving and deletion.
const DefaultInlineGrace = 5 * time.Second

const pdfExt = ".pdf"

// maxReserveAttempts bounds the suffixed candidates Reserve tries per name.
const maxReserveAttempts = 1000

// Archiver copies a finished artifact to durable storage.
type Archiver interface {
	Archive(ctx context.Context, name string, r io.Reader) (string, error)
}

// Config captures the output directory settings.
type Config struct {
	Dir            string
	InlineGrace    time.Duration
	ArchiveTimeout time.Duration
}

// Manager owns the output directory. It is safe for concurrent use.
type Manager struct {
	dir            string
	grace          time.Duration
	archiveTimeout time.Duration
	archiver       Archiver
	logger         *zap.Logger

	mu       sync.Mutex
	reserved map[string]struct{}
	pending  map[string]*time.Timer
	closed   bool
}

// NewManager ensures the output directory exists and is writable.
func NewManager(cfg Config, archiver Archiver, logger *zap.Logger) (*Manager, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("output directory is required")
	}
	if cfg.InlineGrace < 0 {
		return nil, errors.New("inline grace must not be negative")
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create output directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat output directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("output path %q is not a directory", dir)
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("output directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	logger = logging.OrNop(logger)
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = 30 * time.Second
	}
	return &Manager{
		dir:            dir,
		grace:          cfg.InlineGrace,
		archiveTimeout: cfg.ArchiveTimeout,
		archiver:       archiver,
		logger:         logger,
		reserved:       make(map[string]struct{}),
		pending:        make(map[string]*time.Timer),
	}, nil
}

// Dir returns the absolute output directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Reserve returns a free path for name. When name is already taken on disk or
// by another in-flight job, _2, _3, ... is appended before the extension, up
// to maxReserveAttempts candidates. Filesystem errors other than not-exist are
// returned as is.
func (m *Manager) Reserve(name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	m.mu.Lock()
	defer m.mu.Unlock()
	candidate := name
	for n := 2; n <= maxReserveAttempts+1; n++ {
		if _, taken := m.reserved[candidate]; !taken {
			_, err := os.Lstat(filepath.Join(m.dir, candidate))
			switch {
			case errors.Is(err, os.ErrNotExist):
				m.reserved[candidate] = struct{}{}
				return filepath.Join(m.dir, candidate), nil
			case err != nil:
				return "", fmt.Errorf("check artifact name %q: %w", candidate, err)
			}
		}
		candidate = base + "_" + strconv.Itoa(n) + ext
	}
	return "", fmt.Errorf("no free artifact name for %q after %d attempts", name, maxReserveAttempts)
}

// Materialize confirms the rendered file exists under the output directory
// and reports its size and PDF page count. When an Archiver is configured the
// file is copied to it; archival failures are logged only.
func (m *Manager) Materialize(ctx context.Context, path string) (pipeline.Artifact, error) {
	name, err := m.nameOf(path)
	if err != nil {
		return pipeline.Artifact{}, err
	}
	m.unreserve(name)
	full := filepath.Join(m.dir, name)
	info, err := os.Stat(full)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("stat artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		return pipeline.Artifact{}, fmt.Errorf("artifact %q is not a regular file", name)
	}
	art := pipeline.Artifact{Path: full, Name: name, Size: info.Size()}
	if pages, err := api.PageCountFile(full); err == nil {
		art.Pages = pages
	} else {
		m.logger.Debug("pdf page count unavailable", zap.String("artifact", name), zap.Error(err))
	}
	if digest, err := sha256.File(full); err == nil {
		art.SHA256 = digest
	} else {
		m.logger.Warn("artifact digest failed", zap.String("artifact", name), zap.Error(err))
	}
	m.archive(ctx, art)
	return art, nil
}

func (m *Manager) archive(ctx context.Context, art pipeline.Artifact) {
	if m.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.archiveTimeout)
	defer cancel()
	f, err := os.Open(art.Path)
	if err != nil {
		m.logger.Warn("archive open failed", zap.String("artifact", art.Name), zap.Error(err))
		return
	}
	defer func() { _ = f.Close() }()
	uri, err := m.archiver.Archive(ctx, art.Name, f)
	if err != nil {
		m.logger.Warn("archive failed", zap.String("artifact", art.Name), zap.Error(err))
		return
	}
	m.logger.Info("artifact archived", zap.String("artifact", art.Name), zap.String("uri", uri))
}

// Discard deletes a partial or unwanted artifact and drops its reservation.
func (m *Manager) Discard(path string) {
	name, err := m.nameOf(path)
	if err != nil {
		m.logger.Warn("discard outside output directory", zap.String("path", path))
		return
	}
	m.unreserve(name)
	m.remove(name)
}

// ServeInline reads the whole artifact and hands it to serve. Deletion is
// scheduled after the grace delay on every exit path, including failures of
// serve itself.
func (m *Manager) ServeInline(art pipeline.Artifact, serve func(data []byte) error) error {
	name, err := m.nameOf(art.Path)
	if err != nil {
		return err
	}
	defer m.scheduleRelease(name)
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	return serve(data)
}

func (m *Manager) scheduleRelease(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.grace == 0 {
		m.remove(name)
		return
	}
	if t, ok := m.pending[name]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(m.grace, func() {
		m.mu.Lock()
		current, ok := m.pending[name]
		if ok && current == timer {
			delete(m.pending, name)
		}
		m.mu.Unlock()
		if ok && current == timer {
			m.remove(name)
		}
	})
	m.pending[name] = timer
}

// Open looks up a previously generated artifact by its stored filename for a
// later download. Names that are not plain *.pdf base names, or that do not
// exist as regular files, yield ErrNotFound. The caller closes the file.
func (m *Manager) Open(name string) (*os.File, os.FileInfo, error) {
	if !validName(name) {
		return nil, nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(m.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}

// CleanupAll deletes every PDF in the output directory regardless of which job
// produced it and returns how many files were actually removed.
func (m *Manager) CleanupAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("read output directory: %w", err)
	}
	deleted := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), pdfExt) {
			continue
		}
		m.cancelRelease(entry.Name())
		if m.remove(entry.Name()) {
			deleted++
		}
	}
	m.logger.Info("artifacts cleaned up", zap.Int("deleted", deleted))
	return deleted, nil
}

// Close performs every outstanding deferred deletion immediately. Artifacts
// served after Close are deleted without delay.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	names := make([]string, 0, len(m.pending))
	for name, t := range m.pending {
		t.Stop()
		names = append(names, name)
	}
	m.pending = make(map[string]*time.Timer)
	m.mu.Unlock()

	for _, name := range names {
		m.remove(name)
	}
	return nil
}

// Pending reports the number of scheduled deletions.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) cancelRelease(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.pending[name]; ok {
		t.Stop()
		delete(m.pending, name)
	}
}

func (m *Manager) unreserve(name string) {
	m.mu.Lock()
	delete(m.reserved, name)
	m.mu.Unlock()
}

// remove deletes name and reports whether a file was removed. Failures are
// logged, never returned.
func (m *Manager) remove(name string) bool {
	err := os.Remove(filepath.Join(m.dir, name))
	switch {
	case err == nil:
		m.logger.Debug("artifact deleted", zap.String("artifact", name))
		return true
	case errors.Is(err, os.ErrNotExist):
		return false
	default:
		m.logger.Warn("artifact deletion failed", zap.String("artifact", name), zap.Error(err))
		return false
	}
}

// nameOf maps a path to its name inside the output directory.
func (m *Manager) nameOf(path string) (string, error) {
	if path == "" {
		return "", errors.New("artifact path is required")
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(m.dir, full)
	}
	full = filepath.Clean(full)
	if filepath.Dir(full) != m.dir {
		return "", fmt.Errorf("artifact %q is outside the output directory", path)
	}
	return filepath.Base(full), nil
}

// validName accepts bare file names only.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}
