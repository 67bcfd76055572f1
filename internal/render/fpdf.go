package render

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitepdf/internal/logging"
	"github.com/JakeFAU/sitepdf/internal/pipeline"
	"github.com/JakeFAU/sitepdf/internal/progress"
)

var (
	numberedItem = regexp.MustCompile(`^\d+\.\s`)
	italicMarks  = regexp.MustCompile(`(?:^|\s)\*([^*]+)\*(?:\s|$)`)
	inlineCode   = regexp.MustCompile("`([^`]+)`")
	linkSyntax   = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]+\)`)
)

// FPDF renders a text rendition of pages without a browser. HTML is
// converted to Markdown first; headings, lists, code blocks and paragraphs
// are laid out, images are not.
//
// Without a UTF-8 font the core Helvetica and Courier fonts are used and text
// is mapped to cp1252, so scripts outside Western European Latin (CJK,
// Cyrillic, Arabic, ...) come out as placeholder glyphs. WithUTF8Font
// switches every text run to a TrueType font that covers them.
type FPDF struct {
	paper    Paper
	fontPath string
	logger   *zap.Logger
	now      func() time.Time
}

const utf8Family = "sitepdf-utf8"

// typeface is the font selection for one document.
type typeface struct {
	sans string
	mono string
	tr   func(string) string
}

// NewFPDF builds the pure-Go renderer.
func NewFPDF(paper Paper, logger *zap.Logger) *FPDF {
	if paper.Name == "" {
		paper = A4
	}
	logger = logging.OrNop(logger)
	return &FPDF{paper: paper, logger: logger, now: time.Now}
}

// WithUTF8Font makes r embed the TrueType font at path for all text. An
// empty path keeps the cp1252 core fonts.
func (r *FPDF) WithUTF8Font(path string) *FPDF {
	r.fontPath = path
	return r
}

func (r *FPDF) fonts(pdf *gofpdf.Fpdf) (typeface, error) {
	if r.fontPath == "" {
		return typeface{sans: "Helvetica", mono: "Courier", tr: pdf.UnicodeTranslatorFromDescriptor("")}, nil
	}
	if _, err := os.Stat(r.fontPath); err != nil {
		return typeface{}, fmt.Errorf("utf8 font: %w", err)
	}
	for _, style := range []string{"", "B", "I"} {
		pdf.AddUTF8Font(utf8Family, style, r.fontPath)
	}
	if err := pdf.Error(); err != nil {
		return typeface{}, fmt.Errorf("load utf8 font %s: %w", r.fontPath, err)
	}
	return typeface{sans: utf8Family, mono: utf8Family, tr: func(s string) string { return s }}, nil
}

// RenderSingle writes one page to outPath.
func (r *FPDF) RenderSingle(
	ctx context.Context,
	rec pipeline.PageRecord,
	outPath string,
	report progress.Reporter,
) (string, error) {
	report = orDiscard(report)
	pdf, tf, err := r.newDocument(rec.Title)
	if err != nil {
		return "", err
	}
	report.Report(progress.Update{Message: "Converting page: " + rec.Title, URL: rec.URL, Current: 0, Total: 1, Percentage: 10})
	if err := r.writePage(ctx, pdf, tf, rec); err != nil {
		return "", err
	}
	report.Report(progress.Update{Message: "Writing PDF", Current: 1, Total: 1, Percentage: 90})
	return r.save(pdf, outPath, 1, report)
}

// RenderMulti writes a cover, a contents list and one section per page.
func (r *FPDF) RenderMulti(
	ctx context.Context,
	pages []pipeline.PageRecord,
	sourceURL, outPath string,
	report progress.Reporter,
) (string, error) {
	report = orDiscard(report)
	if len(pages) == 0 {
		return "", fmt.Errorf("no pages to render")
	}
	title := documentTitle(pages, sourceURL)
	pdf, tf, err := r.newDocument(title)
	if err != nil {
		return "", err
	}
	tr := tf.tr

	pdf.AddPage()
	pdf.SetFont(tf.sans, "B", 22)
	pdf.Ln(60)
	pdf.MultiCell(0, 10, tr(title), "", "C", false)
	pdf.SetFont(tf.sans, "", 11)
	pdf.MultiCell(0, 6, tr(sourceURL), "", "C", false)
	pdf.MultiCell(0, 6, fmt.Sprintf("%d pages, generated %s", len(pages), r.now().Format("2006-01-02 15:04")), "", "C", false)

	pdf.AddPage()
	pdf.SetFont(tf.sans, "B", 16)
	pdf.MultiCell(0, 8, "Contents", "", "L", false)
	pdf.Ln(2)
	pdf.SetFont(tf.sans, "", 10)
	for i, p := range pages {
		pdf.MultiCell(0, 5, tr(fmt.Sprintf("%d. %s", i+1, sectionTitle(p))), "", "L", false)
	}

	for i, p := range pages {
		pdf.AddPage()
		if err := r.writePage(ctx, pdf, tf, p); err != nil {
			return "", err
		}
		report.Report(progress.Update{
			Message:    "Rendered page: " + sectionTitle(p),
			URL:        p.URL,
			Current:    i + 1,
			Total:      len(pages),
			Percentage: progress.Percent(i+1, len(pages)) * 90 / 100,
		})
	}
	return r.save(pdf, outPath, len(pages), report)
}

func (r *FPDF) newDocument(title string) (*gofpdf.Fpdf, typeface, error) {
	pdf := gofpdf.New("P", "mm", r.paper.Name, "")
	tf, err := r.fonts(pdf)
	if err != nil {
		return nil, typeface{}, err
	}
	pdf.SetTitle(title, true)
	pdf.SetCreator("sitepdf", true)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(tf.sans, "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 8, fmt.Sprintf("%d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})
	return pdf, tf, nil
}

func (r *FPDF) writePage(ctx context.Context, pdf *gofpdf.Fpdf, tf typeface, rec pipeline.PageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	markdown, err := htmltomarkdown.ConvertString(rec.Content)
	if err != nil {
		return fmt.Errorf("converting HTML to markdown: %w", err)
	}
	if pdf.PageCount() == 0 {
		pdf.AddPage()
	}
	tr := tf.tr

	pdf.SetFont(tf.sans, "B", 18)
	pdf.MultiCell(0, 8, tr(sectionTitle(rec)), "", "L", false)
	pdf.Ln(2)
	pdf.SetFont(tf.sans, "I", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.MultiCell(0, 5, tr("Source: "+rec.URL), "", "L", false)
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	writeMarkdown(pdf, markdown, tf)
	return pdf.Error()
}

func (r *FPDF) save(pdf *gofpdf.Fpdf, outPath string, total int, report progress.Reporter) (string, error) {
	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	r.logger.Debug("pdf written", zap.String("path", outPath), zap.Int("pages", pdf.PageCount()))
	report.Report(progress.Update{Message: "PDF generated", Current: total, Total: total, Percentage: 100})
	return outPath, nil
}

func writeMarkdown(pdf *gofpdf.Fpdf, markdown string, tf typeface) {
	tr := tf.tr
	inCode := false
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inCode = !inCode
			pdf.Ln(2)
			continue
		}
		if inCode {
			pdf.SetFont(tf.mono, "", 9)
			pdf.SetFillColor(245, 245, 245)
			pdf.MultiCell(0, 4.5, tr(line), "", "L", true)
			continue
		}
		switch {
		case trimmed == "":
			pdf.Ln(3)
		case strings.HasPrefix(trimmed, "#"):
			level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
			heading(pdf, tf.sans, tr(cleanInline(strings.TrimLeft(trimmed, "# "))), level)
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
			pdf.SetFont(tf.sans, "", 10)
			pdf.MultiCell(0, 5, tr("• "+cleanInline(trimmed[2:])), "", "L", false)
		case numberedItem.MatchString(trimmed):
			pdf.SetFont(tf.sans, "", 10)
			pdf.MultiCell(0, 5, tr(cleanInline(trimmed)), "", "L", false)
		default:
			pdf.SetFont(tf.sans, "", 10)
			pdf.MultiCell(0, 5, tr(cleanInline(line)), "", "L", false)
		}
	}
}

func heading(pdf *gofpdf.Fpdf, family, text string, level int) {
	sizes := map[int]float64{1: 16, 2: 14, 3: 12, 4: 11, 5: 10, 6: 10}
	size, ok := sizes[level]
	if !ok {
		size = 10
	}
	pdf.Ln(3)
	pdf.SetFont(family, "B", size)
	pdf.MultiCell(0, size*0.6, text, "", "L", false)
	pdf.Ln(1)
}

func cleanInline(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "__", "")
	text = italicMarks.ReplaceAllString(text, " $1 ")
	text = inlineCode.ReplaceAllString(text, "$1")
	text = linkSyntax.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

func sectionTitle(p pipeline.PageRecord) string {
	if t := strings.TrimSpace(p.Title); t != "" {
		return t
	}
	return p.URL
}
