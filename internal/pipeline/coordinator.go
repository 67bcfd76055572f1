package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitepdf/internal/clock/system"
	"github.com/JakeFAU/sitepdf/internal/logging"
	"github.com/JakeFAU/sitepdf/internal/progress"
)

// State is a job's position in its lifecycle. There is no transition back.
type State string

// Job states.
const (
	StateStarted   State = "started"
	StateAcquiring State = "acquiring"
	StateRendering State = "rendering"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// DefaultSinglePageDelay is the politeness delay used for single-page acquisition.
const DefaultSinglePageDelay = 500 * time.Millisecond

// Config tunes the Coordinator.
type Config struct {
	SinglePageDelay time.Duration
}

// Deps are the collaborators a Coordinator needs. Acquirer, Renderer and
// Artifacts are required; the rest are optional.
type Deps struct {
	Acquirer  Acquirer
	Renderer  Renderer
	Artifacts ArtifactStore
	Clock     Clock
	IDs       IDGenerator
	Recorder  Recorder
	Notifier  Notifier
	Logger    *zap.Logger
}

// Coordinator runs jobs. It holds no per-job state and is safe for concurrent use.
type Coordinator struct {
	cfg       Config
	acquirer  Acquirer
	renderer  Renderer
	artifacts ArtifactStore
	clock     Clock
	ids       IDGenerator
	recorder  Recorder
	notifier  Notifier
	logger    *zap.Logger
}

// NewCoordinator validates deps and builds a Coordinator.
func NewCoordinator(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Acquirer == nil || deps.Renderer == nil || deps.Artifacts == nil {
		return nil, errors.New("pipeline: acquirer, renderer and artifact store are required")
	}
	if cfg.SinglePageDelay <= 0 {
		cfg.SinglePageDelay = DefaultSinglePageDelay
	}
	c := &Coordinator{
		cfg:       cfg,
		acquirer:  deps.Acquirer,
		renderer:  deps.Renderer,
		artifacts: deps.Artifacts,
		clock:     deps.Clock,
		ids:       deps.IDs,
		recorder:  deps.Recorder,
		notifier:  deps.Notifier,
		logger:    logging.OrNop(deps.Logger),
	}
	if c.clock == nil {
		c.clock = system.New()
	}
	return c, nil
}

// run carries the mutable bookkeeping of one Run call.
type run struct {
	job    Job
	sink   progress.Sink
	logger *zap.Logger
	state  State
}

func (r *run) transition(next State) {
	r.logger.Debug("job state", zap.String("from", string(r.state)), zap.String("to", string(next)))
	r.state = next
}

// Run executes job to a terminal state. Progress for the acquisition stage is
// emitted as progress events, render progress as pdf_progress events, and the
// outcome as exactly one complete or error event. A job with an invalid URL
// never starts: Run returns an ErrInput failure and emits nothing.
func (c *Coordinator) Run(ctx context.Context, job Job, sink progress.Sink) (Result, error) {
	src, err := ValidateURL(job.URL)
	if err != nil {
		return Result{}, err
	}
	if sink == nil {
		sink = progress.NopSink{}
	}
	if job.ID == "" && c.ids != nil {
		id, idErr := c.ids.NewJobID()
		if idErr != nil {
			return Result{}, fmt.Errorf("generate job id: %w", idErr)
		}
		job.ID = id
	}

	r := &run{
		job:   job,
		sink:  sink,
		state: StateStarted,
		logger: c.logger.With(
			zap.String("job_id", job.ID),
			zap.String("mode", job.Mode.String()),
			zap.String("url", job.URL),
		),
	}
	start := time.Now()
	r.logger.Info("job started", zap.String("client_id", job.ClientID))

	res, err := c.execute(ctx, r, src.Hostname(), ArtifactName(src, job.Mode, c.clock.Now()))
	elapsed := time.Since(start)
	if err != nil {
		r.transition(StateFailed)
		r.emit(progress.TypeError, progress.Failure{Message: err.Error()})
		r.logger.Warn("job failed", zap.Error(err), zap.Duration("duration", elapsed))
		c.finish(ctx, r, res, err, elapsed)
		return Result{}, err
	}
	r.transition(StateCompleted)
	r.emit(progress.TypeComplete, res.Summary())
	r.logger.Info("job completed",
		zap.String("filename", res.Filename),
		zap.Int("total_pages", res.TotalPages),
		zap.Int64("file_size", res.FileSize),
		zap.Duration("duration", elapsed),
	)
	c.finish(ctx, r, res, nil, elapsed)
	return res, nil
}

func (c *Coordinator) execute(ctx context.Context, r *run, host, name string) (Result, error) {
	r.transition(StateAcquiring)
	acquireReport := progress.NewChannel(r.sink, progress.TypeProgress, r.job.ID)
	pages, err := c.acquire(ctx, r.job, acquireReport)
	if err != nil {
		return Result{}, err
	}
	r.logger.Debug("pages acquired", zap.Int("count", len(pages)), zap.String("host", host))

	r.transition(StateRendering)
	outPath, err := c.artifacts.Reserve(name)
	if err != nil {
		return Result{}, newError(ErrRender, "reserve artifact", err)
	}
	renderReport := progress.NewChannel(r.sink, progress.TypePDFProgress, r.job.ID)
	written, err := c.render(ctx, r.job, pages, outPath, renderReport)
	if err != nil {
		c.artifacts.Discard(outPath)
		return Result{}, err
	}
	art, err := c.artifacts.Materialize(ctx, written)
	if err != nil {
		c.artifacts.Discard(written)
		return Result{}, newError(ErrRender, "rendered artifact unavailable", err)
	}
	return Result{
		JobID:         r.job.ID,
		Path:          art.Path,
		Filename:      art.Name,
		TotalPages:    len(pages),
		DocumentPages: art.Pages,
		FileSize:      art.Size,
		SHA256:        art.SHA256,
	}, nil
}

func (c *Coordinator) acquire(ctx context.Context, job Job, report progress.Reporter) ([]PageRecord, error) {
	switch job.Mode {
	case SinglePage:
		pages, err := c.acquirer.Acquire(ctx, job.URL, AcquireConfig{
			MaxDepth:      1,
			MaxPages:      1,
			Delay:         c.cfg.SinglePageDelay,
			IncludeImages: job.Options.IncludeImages,
			IncludeStyles: job.Options.IncludeStyles,
		}, report)
		if err != nil {
			return nil, newError(ErrAcquisition, "", err)
		}
		if len(pages) == 0 {
			return nil, newError(ErrAcquisition, "no content extracted", nil)
		}
		return pages[:1], nil
	case MultiPage:
		pages, err := c.acquirer.Acquire(ctx, job.URL, AcquireConfig{
			MaxDepth:      job.Options.MaxDepth,
			MaxPages:      job.Options.MaxPages,
			Delay:         job.Options.Delay,
			IncludeImages: job.Options.IncludeImages,
			IncludeStyles: job.Options.IncludeStyles,
		}, report)
		if err != nil {
			return nil, newError(ErrAcquisition, "", err)
		}
		return pages, nil
	case Fallback:
		return []PageRecord{FallbackPage(job)}, nil
	default:
		return nil, newError(ErrInput, "unsupported mode "+job.Mode.String(), nil)
	}
}

func (c *Coordinator) render(
	ctx context.Context,
	job Job,
	pages []PageRecord,
	outPath string,
	report progress.Reporter,
) (string, error) {
	var (
		written string
		err     error
	)
	switch job.Mode {
	case SinglePage, Fallback:
		written, err = c.renderer.RenderSingle(ctx, pages[0], outPath, report)
	case MultiPage:
		written, err = c.renderer.RenderMulti(ctx, pages, job.URL, outPath, report)
	default:
		return "", newError(ErrInput, "unsupported mode "+job.Mode.String(), nil)
	}
	if err != nil {
		return "", newError(ErrRender, "", err)
	}
	if written == "" {
		written = outPath
	}
	return written, nil
}

// FallbackPage synthesizes the single record of a fallback job.
func FallbackPage(job Job) PageRecord {
	page := PageRecord{
		URL:     job.URL,
		Title:   job.Title,
		Content: job.Content,
		Depth:   0,
		Source:  SourceFallback,
	}
	if page.Title == "" {
		page.Title = PlaceholderTitle
	}
	if page.Content == "" {
		page.Content = PlaceholderContent
	}
	return page
}

func (r *run) emit(typ progress.Type, data any) {
	r.sink.Emit(progress.Event{Type: typ, Data: data, JobID: r.job.ID, TS: time.Now()})
}

func (c *Coordinator) finish(ctx context.Context, r *run, res Result, jobErr error, elapsed time.Duration) {
	result := "success"
	if jobErr != nil {
		result = "error"
	}
	if c.recorder != nil {
		c.recorder.ObserveJob(r.job.Mode.String(), result, elapsed, res.TotalPages, res.FileSize)
	}
	if c.notifier == nil {
		return
	}
	completion := Completion{
		JobID:      r.job.ID,
		URL:        r.job.URL,
		Mode:       r.job.Mode,
		Filename:   res.Filename,
		TotalPages: res.TotalPages,
		FileSize:   res.FileSize,
		SHA256:     res.SHA256,
		Finished:   c.clock.Now(),
	}
	if jobErr != nil {
		completion.Error = jobErr.Error()
	}
	if err := c.notifier.Notify(context.WithoutCancel(ctx), completion); err != nil {
		r.logger.Warn("completion notification failed", zap.Error(err))
	}
}
