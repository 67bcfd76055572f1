package pipeline

import (
	"context"
	"time"

	"github.com/JakeFAU/sitepdf/internal/progress"
)

// Page provenance values.
const (
	SourceCrawled  = "crawled"
	SourceFallback = "fallback"
)

// Placeholder content used by fallback jobs that carry no content.
const (
	PlaceholderTitle   = "Untitled"
	PlaceholderContent = "<html><body><h1>No Content</h1><p>Unable to extract page content.</p></body></html>"
)

// Options is the per-job options bag.
type Options struct {
	IncludeImages bool          `json:"includeImages"`
	IncludeStyles bool          `json:"includeStyles"`
	MaxDepth      int           `json:"maxDepth"`
	MaxPages      int           `json:"maxPages"`
	Delay         time.Duration `json:"delay"`
}

// Job is one conversion request. It lives for the duration of Run.
type Job struct {
	ID       string
	URL      string
	Mode     Mode
	Options  Options
	Title    string
	Content  string
	ClientID string
}

// PageRecord is one captured page. Multi-page order is discovery order.
type PageRecord struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Depth   int    `json:"depth"`
	Source  string `json:"source"`
}

// AcquireConfig configures one acquisition call.
type AcquireConfig struct {
	MaxDepth      int
	MaxPages      int
	Delay         time.Duration
	IncludeImages bool
	IncludeStyles bool
}

// Result describes the artifact produced by a successful job.
type Result struct {
	JobID string
	// Path is the absolute location of the artifact in the output directory.
	Path string
	// Filename is the download key of the artifact.
	Filename string
	// TotalPages is the number of Page Records rendered.
	TotalPages int
	// DocumentPages is the page count of the PDF itself, zero when unknown.
	DocumentPages int
	FileSize      int64
	// SHA256 is the hex digest of the artifact, empty when unknown.
	SHA256 string
}

// Summary converts the result into the payload of a complete event.
func (r Result) Summary() progress.Summary {
	return progress.Summary{PDFPath: r.Filename, TotalPages: r.TotalPages, FileSize: r.FileSize}
}

// Acquirer retrieves pages for a source URL.
type Acquirer interface {
	Acquire(ctx context.Context, url string, cfg AcquireConfig, report progress.Reporter) ([]PageRecord, error)
}

// Renderer writes PDFs to a coordinator-chosen path and returns the path written.
type Renderer interface {
	RenderSingle(ctx context.Context, page PageRecord, outPath string, report progress.Reporter) (string, error)
	RenderMulti(ctx context.Context, pages []PageRecord, sourceURL, outPath string, report progress.Reporter) (string, error)
}

// Artifact is a materialized output file.
type Artifact struct {
	Path   string
	Name   string
	Size   int64
	Pages  int
	SHA256 string
}

// ArtifactStore owns the output directory.
type ArtifactStore interface {
	// Reserve returns a free path for name, uniquified when name is taken.
	Reserve(name string) (string, error)
	// Materialize confirms a rendered file exists and reports its size.
	Materialize(ctx context.Context, path string) (Artifact, error)
	// Discard removes a partial or unwanted artifact.
	Discard(path string)
}

// Clock supplies time for artifact naming.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies job identifiers.
type IDGenerator interface {
	NewJobID() (string, error)
}

// Recorder receives job outcome metrics.
type Recorder interface {
	ObserveJob(mode, result string, duration time.Duration, pages int, bytes int64)
}

// Completion is published after every job reaches a terminal state.
type Completion struct {
	JobID      string    `json:"jobId"`
	URL        string    `json:"url"`
	Mode       Mode      `json:"mode"`
	Filename   string    `json:"filename,omitempty"`
	TotalPages int       `json:"totalPages"`
	FileSize   int64     `json:"fileSize"`
	SHA256     string    `json:"sha256,omitempty"`
	Error      string    `json:"error,omitempty"`
	Finished   time.Time `json:"finished"`
}

// Notifier announces job completions to external systems.
type Notifier interface {
	Notify(ctx context.Context, c Completion) error
}
