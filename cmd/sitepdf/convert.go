package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitepdf/internal/pipeline"
	"github.com/JakeFAU/sitepdf/internal/progress"
)

type convertFlags struct {
	mode        string
	out         string
	title       string
	contentFile string
	maxDepth    int
	maxPages    int
	delay       time.Duration
	noImages    bool
	noStyles    bool
	quiet       bool
}

func newConvertCmd() *cobra.Command {
	var f convertFlags
	cmd := &cobra.Command{
		Use:   "convert <url>",
		Short: "Convert one page or a whole site to a PDF file",
		Example: `  sitepdf convert https://example.com --out example.pdf
  sitepdf convert https://example.com --mode multi-page --max-pages 20`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, app App) error {
			return runConvert(cmd, app, args[0], f)
		}),
	}
	flags := cmd.Flags()
	flags.StringVar(&f.mode, "mode", pipeline.SinglePage.String(), "single-page, multi-page, or fallback")
	flags.StringVarP(&f.out, "out", "o", "", "copy the PDF to this path (default: leave it in the output directory)")
	flags.StringVar(&f.title, "title", "", "document title for fallback mode")
	flags.StringVar(&f.contentFile, "content-file", "", "HTML file used as page content in fallback mode")
	flags.IntVar(&f.maxDepth, "max-depth", 2, "link depth for multi-page mode")
	flags.IntVar(&f.maxPages, "max-pages", 50, "page limit for multi-page mode")
	flags.DurationVar(&f.delay, "delay", time.Second, "delay between requests in multi-page mode")
	flags.BoolVar(&f.noImages, "no-images", false, "strip images from captured pages")
	flags.BoolVar(&f.noStyles, "no-styles", false, "strip stylesheets from captured pages")
	flags.BoolVarP(&f.quiet, "quiet", "q", false, "suppress progress output")
	return cmd
}

func runConvert(cmd *cobra.Command, app App, rawURL string, f convertFlags) error {
	mode, err := pipeline.ParseMode(f.mode)
	if err != nil {
		return err
	}
	job := pipeline.Job{
		URL:   rawURL,
		Mode:  mode,
		Title: f.title,
		Options: pipeline.Options{
			IncludeImages: !f.noImages,
			IncludeStyles: !f.noStyles,
			MaxDepth:      f.maxDepth,
			MaxPages:      f.maxPages,
			Delay:         f.delay,
		},
	}
	if f.contentFile != "" {
		data, err := os.ReadFile(f.contentFile)
		if err != nil {
			return fmt.Errorf("read content file: %w", err)
		}
		job.Content = string(data)
	}

	var sink progress.Sink
	if !f.quiet {
		sink = &writerSink{w: cmd.ErrOrStderr()}
	}
	res, err := app.Convert(cmd.Context(), job, sink)
	if err != nil {
		return err
	}

	dest := res.Path
	if f.out != "" {
		if err := copyFile(res.Path, f.out); err != nil {
			return err
		}
		dest = f.out
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%d page(s), %d bytes)\n", dest, res.TotalPages, res.FileSize)
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = in.Close() }()
	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

// writerSink prints progress events as plain lines.
type writerSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *writerSink) Emit(evt progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch data := evt.Data.(type) {
	case progress.Update:
		_, _ = fmt.Fprintf(s.w, "[%s] %3d%% %s\n", evt.Type, data.Percentage, data.Message)
	case progress.Summary:
		_, _ = fmt.Fprintf(s.w, "[%s] %s\n", evt.Type, data.PDFPath)
	case progress.Failure:
		_, _ = fmt.Fprintf(s.w, "[%s] %s\n", evt.Type, data.Message)
	}
}
