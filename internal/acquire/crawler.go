// Package acquire implements page acquisition with a colly crawler. A crawl
// starts at one URL, stays on its host, follows links breadth limited by depth
// and page count, and reports one progress update per captured page.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitepdf/internal/logging"
	"github.com/JakeFAU/sitepdf/internal/pipeline"
	"github.com/JakeFAU/sitepdf/internal/progress"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Crawler implements pipeline.Acquirer.
type Crawler struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

// New builds a Crawler with a pooled transport.
func New(cfg Config, logger *zap.Logger) *Crawler {
	logger = logging.OrNop(logger)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Crawler{cfg: cfg, transport: newHTTPTransport(), logger: logger}
}

// crawl is the state of one Acquire call. colly invokes callbacks from the
// goroutine running Visit, the mutex guards reads from the caller.
type crawl struct {
	ctx    context.Context
	cfg    pipeline.AcquireConfig
	report progress.Reporter
	logger *zap.Logger
	start  string

	mu       sync.Mutex
	pages    []pipeline.PageRecord
	seen     map[string]struct{}
	startErr error
}

// Acquire crawls rawURL and returns pages in discovery order. A failure to
// fetch the start page is an error; failures on linked pages are logged and
// skipped.
func (c *Crawler) Acquire(
	ctx context.Context,
	rawURL string,
	cfg pipeline.AcquireConfig,
	report progress.Reporter,
) ([]pipeline.PageRecord, error) {
	if report == nil {
		report = progress.Discard
	}
	start, err := url.Parse(rawURL)
	if err != nil || start.Hostname() == "" {
		return nil, fmt.Errorf("invalid start url %q", rawURL)
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}

	st := &crawl{
		ctx:    ctx,
		cfg:    cfg,
		report: report,
		logger: c.logger.With(zap.String("start_url", rawURL)),
		start:  NormalizeURL(rawURL),
		seen:   make(map[string]struct{}),
	}
	collector, err := c.buildCollector(st, start.Hostname())
	if err != nil {
		return nil, err
	}

	report.Report(progress.Update{
		Message: "Starting crawl: " + rawURL,
		URL:     rawURL,
		Total:   cfg.MaxPages,
	})

	runErr := runCollector(ctx, collector, rawURL)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("crawl canceled: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.pages) == 0 {
		if st.startErr != nil {
			return nil, st.startErr
		}
		if runErr != nil {
			return nil, runErr
		}
	} else if runErr != nil {
		st.logger.Debug("crawl finished with error", zap.Error(runErr))
	}
	report.Report(progress.Update{
		Message:    fmt.Sprintf("Crawl complete: %d pages", len(st.pages)),
		Current:    len(st.pages),
		Total:      len(st.pages),
		Percentage: 100,
	})
	return append([]pipeline.PageRecord(nil), st.pages...), nil
}

func (c *Crawler) buildCollector(st *crawl, host string) (*colly.Collector, error) {
	collector := colly.NewCollector(
		colly.AllowedDomains(host),
		colly.MaxDepth(st.cfg.MaxDepth),
		colly.Async(false),
	)
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !c.cfg.RespectRobots
	collector.AllowURLRevisit = false
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.WithTransport(c.transport)
	if st.cfg.Delay > 0 {
		if err := collector.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: 1,
			Delay:       st.cfg.Delay,
		}); err != nil {
			return nil, fmt.Errorf("set collector limits: %w", err)
		}
	}

	collector.OnRequest(st.handleRequest)
	collector.OnResponse(st.handleResponse)
	collector.OnHTML("a[href]", st.handleLink)
	collector.OnError(st.handleError)
	return collector, nil
}

func (st *crawl) full() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.pages) >= st.cfg.MaxPages
}

func (st *crawl) handleRequest(r *colly.Request) {
	if st.ctx.Err() != nil || st.full() {
		r.Abort()
	}
}

func (st *crawl) handleResponse(r *colly.Response) {
	pageURL := r.Request.URL.String()
	if ct := r.Headers.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		st.logger.Debug("skipping non-html response", zap.String("url", pageURL), zap.String("content_type", ct))
		return
	}
	if len(r.Body) == 0 {
		return
	}

	st.mu.Lock()
	key := NormalizeURL(pageURL)
	if _, dup := st.seen[key]; dup || len(st.pages) >= st.cfg.MaxPages {
		st.mu.Unlock()
		return
	}
	st.seen[key] = struct{}{}
	st.mu.Unlock()

	title, content, err := processPage(r.Body, pageURL, st.cfg.IncludeImages, st.cfg.IncludeStyles)
	if err != nil {
		st.logger.Warn("page processing failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	record := pipeline.PageRecord{
		URL:     pageURL,
		Title:   title,
		Content: content,
		Depth:   r.Request.Depth - 1,
		Source:  pipeline.SourceCrawled,
	}

	st.mu.Lock()
	st.pages = append(st.pages, record)
	current := len(st.pages)
	st.mu.Unlock()

	st.report.Report(progress.Update{
		Message:    "Crawled: " + title,
		URL:        pageURL,
		Depth:      record.Depth,
		Current:    current,
		Total:      st.cfg.MaxPages,
		Percentage: progress.Percent(current, st.cfg.MaxPages),
	})
}

func (st *crawl) handleLink(e *colly.HTMLElement) {
	if st.full() || st.ctx.Err() != nil {
		return
	}
	link := e.Request.AbsoluteURL(e.Attr("href"))
	if link == "" || !followable(link) {
		return
	}
	link = NormalizeURL(link)
	st.mu.Lock()
	_, seen := st.seen[link]
	st.mu.Unlock()
	if seen {
		return
	}
	if err := e.Request.Visit(link); err != nil && !ignorableVisitError(err) {
		st.logger.Debug("link not followed", zap.String("url", link), zap.Error(err))
	}
}

func (st *crawl) handleError(r *colly.Response, err error) {
	pageURL := r.Request.URL.String()
	st.logger.Warn("page fetch failed",
		zap.String("url", pageURL),
		zap.Int("status_code", r.StatusCode),
		zap.Error(err),
	)
	if NormalizeURL(pageURL) != st.start {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.startErr == nil {
		if r.StatusCode > 0 {
			st.startErr = fmt.Errorf("fetch %s: status %d: %w", pageURL, r.StatusCode, err)
		} else {
			st.startErr = fmt.Errorf("fetch %s: %w", pageURL, err)
		}
	}
}

func ignorableVisitError(err error) bool {
	var alreadyVisited *colly.AlreadyVisitedError
	return errors.As(err, &alreadyVisited) ||
		errors.Is(err, colly.ErrMaxDepth) ||
		errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrRobotsTxtBlocked) ||
		errors.Is(err, colly.ErrAbortedAfterHeaders) ||
		errors.Is(err, colly.ErrNoURLFiltersMatch)
}

func runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("crawl canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil && !ignorableVisitError(err) {
			return fmt.Errorf("crawl %s: %w", target, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
