package render

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitepdf/internal/logging"
	"github.com/JakeFAU/sitepdf/internal/pipeline"
	"github.com/JakeFAU/sitepdf/internal/progress"
)

// ChromedpConfig controls the headless Chrome renderer.
type ChromedpConfig struct {
	Paper       Paper
	Timeout     time.Duration
	MaxParallel int
	UserAgent   string
	// SettleDelay is how long to wait after loading content for images and fonts.
	SettleDelay time.Duration
	// ExecPath overrides the Chrome binary; empty uses chromedp's lookup.
	ExecPath string
}

// Chromedp implements pipeline.Renderer using Page.printToPDF.
type Chromedp struct {
	cfg         ChromedpConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
	now         func() time.Time
}

// NewChromedp creates a renderer backed by a shared Chrome allocator. The
// browser starts lazily on first render.
func NewChromedp(cfg ChromedpConfig, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Paper.Name == "" {
		cfg.Paper = A4
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	logger = logging.OrNop(logger)
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chromedp{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Close shuts the browser down.
func (r *Chromedp) Close() {
	r.allocCancel()
}

// RenderSingle prints one page to outPath.
func (r *Chromedp) RenderSingle(
	ctx context.Context,
	rec pipeline.PageRecord,
	outPath string,
	report progress.Reporter,
) (string, error) {
	report = orDiscard(report)
	report.Report(progress.Update{Message: "Preparing page: " + rec.Title, URL: rec.URL, Current: 0, Total: 1, Percentage: 10})
	html, err := singleDocument(rec)
	if err != nil {
		return "", err
	}
	return r.print(ctx, html, outPath, 1, report)
}

// RenderMulti prints every page, in order, into one document at outPath.
func (r *Chromedp) RenderMulti(
	ctx context.Context,
	pages []pipeline.PageRecord,
	sourceURL, outPath string,
	report progress.Reporter,
) (string, error) {
	report = orDiscard(report)
	if len(pages) == 0 {
		return "", fmt.Errorf("no pages to render")
	}
	html, err := composeDocument(ctx, pages, sourceURL, r.now(), report)
	if err != nil {
		return "", err
	}
	return r.print(ctx, html, outPath, len(pages), report)
}

func (r *Chromedp) print(ctx context.Context, html, outPath string, total int, report progress.Reporter) (string, error) {
	if err := r.acquire(ctx); err != nil {
		return "", err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	report.Report(progress.Update{Message: "Loading content into browser", Current: 0, Total: total, Percentage: 50})
	var pdf []byte
	start := time.Now()
	err := chromedp.Run(taskCtx,
		r.userAgentAction(),
		chromedp.Navigate("about:blank"),
		setContentAction(html),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
		chromedp.ActionFunc(func(ctx context.Context) error {
			report.Report(progress.Update{Message: "Printing PDF", Current: 0, Total: total, Percentage: 70})
			data, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(r.cfg.Paper.WidthIn).
				WithPaperHeight(r.cfg.Paper.HeightIn).
				WithMarginTop(0.4).
				WithMarginBottom(0.4).
				WithMarginLeft(0.4).
				WithMarginRight(0.4).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = data
			return nil
		}),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	if err := os.WriteFile(outPath, pdf, 0o600); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	r.logger.Debug("pdf printed",
		zap.String("path", outPath),
		zap.Int("bytes", len(pdf)),
		zap.Duration("duration", time.Since(start)),
	)
	report.Report(progress.Update{Message: "PDF generated", Current: total, Total: total, Percentage: 100})
	return outPath, nil
}

func (r *Chromedp) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if r.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func setContentAction(html string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return fmt.Errorf("get frame tree: %w", err)
		}
		if err := page.SetDocumentContent(tree.Frame.ID, html).Do(ctx); err != nil {
			return fmt.Errorf("set document content: %w", err)
		}
		return nil
	})
}

func (r *Chromedp) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *Chromedp) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func orDiscard(report progress.Reporter) progress.Reporter {
	if report == nil {
		return progress.Discard
	}
	return report
}
