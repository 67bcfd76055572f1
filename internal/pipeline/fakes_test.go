package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/sitepdf/internal/progress"
)

type fakeAcquirer struct {
	pages []PageRecord
	err   error
	calls int
	cfg   AcquireConfig
}

func (f *fakeAcquirer) Acquire(_ context.Context, _ string, cfg AcquireConfig, report progress.Reporter) ([]PageRecord, error) {
	f.calls++
	f.cfg = cfg
	for i, p := range f.pages {
		report.Report(progress.Update{
			Message:    "fetched " + p.URL,
			URL:        p.URL,
			Depth:      p.Depth,
			Current:    i + 1,
			Total:      len(f.pages),
			Percentage: progress.Percent(i+1, len(f.pages)),
		})
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.pages, nil
}

type fakeRenderer struct {
	err        error
	single     []PageRecord
	multi      [][]PageRecord
	sourceURLs []string
}

func (f *fakeRenderer) write(outPath string, report progress.Reporter) (string, error) {
	report.Report(progress.Update{Message: "rendering", Current: 1, Total: 2, Percentage: 50})
	if f.err != nil {
		if err := os.WriteFile(outPath, []byte("%PDF-partial"), 0o600); err != nil {
			return "", err
		}
		return "", f.err
	}
	if err := os.WriteFile(outPath, []byte("%PDF-1.4 fake"), 0o600); err != nil {
		return "", err
	}
	report.Report(progress.Update{Message: "done", Current: 2, Total: 2, Percentage: 100})
	return outPath, nil
}

func (f *fakeRenderer) RenderSingle(_ context.Context, page PageRecord, outPath string, report progress.Reporter) (string, error) {
	f.single = append(f.single, page)
	return f.write(outPath, report)
}

func (f *fakeRenderer) RenderMulti(
	_ context.Context,
	pages []PageRecord,
	sourceURL, outPath string,
	report progress.Reporter,
) (string, error) {
	f.multi = append(f.multi, pages)
	f.sourceURLs = append(f.sourceURLs, sourceURL)
	return f.write(outPath, report)
}

// dirStore is a minimal ArtifactStore over a temp directory.
type dirStore struct {
	dir string
}

func (s dirStore) Reserve(name string) (string, error) {
	candidate := filepath.Join(s.dir, name)
	ext := filepath.Ext(name)
	base := name[:len(name)-len(ext)]
	for n := 2; ; n++ {
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		candidate = filepath.Join(s.dir, base+"_"+strconv.Itoa(n)+ext)
	}
}

func (s dirStore) Materialize(_ context.Context, path string) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Path: path, Name: filepath.Base(path), Size: info.Size()}, nil
}

func (s dirStore) Discard(path string) {
	_ = os.Remove(path)
}

type recordingSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (s *recordingSink) Emit(evt progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) count(typ progress.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, evt := range s.events {
		if evt.Type == typ {
			n++
		}
	}
	return n
}

func (s *recordingSink) terminal() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []progress.Event
	for _, evt := range s.events {
		if evt.Terminal() {
			out = append(out, evt)
		}
	}
	return out
}

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	n int
}

func (s *seqIDs) NewJobID() (string, error) {
	s.n++
	return "job-" + strconv.Itoa(s.n), nil
}

type failingIDs struct{}

func (failingIDs) NewJobID() (string, error) { return "", errors.New("entropy exhausted") }

type fakeRecorder struct {
	results []string
}

func (f *fakeRecorder) ObserveJob(_ string, result string, _ time.Duration, _ int, _ int64) {
	f.results = append(f.results, result)
}

type fakeNotifier struct {
	completions []Completion
	err         error
}

func (f *fakeNotifier) Notify(_ context.Context, c Completion) error {
	f.completions = append(f.completions, c)
	return f.err
}
