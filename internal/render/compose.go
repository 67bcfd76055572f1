package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitepdf/internal/pipeline"
	"github.com/JakeFAU/sitepdf/internal/progress"
)

const prepareParallelism = 4

type section struct {
	Anchor string
	Title  string
	URL    string
	Styles template.HTML
	Body   template.HTML
}

type document struct {
	Title     string
	SourceURL string
	Generated string
	Sections  []section
}

var documentTemplate = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; line-height: 1.5; }
.cover { page-break-after: always; text-align: center; padding-top: 30%; }
.toc { page-break-after: always; }
.toc ol { padding-left: 1.5em; }
.page { page-break-before: always; }
.page > header { border-bottom: 1px solid #ccc; margin-bottom: 1em; }
.page > header .source { color: #666; font-size: 0.85em; word-break: break-all; }
img { max-width: 100%; }
</style>
{{range .Sections}}{{.Styles}}{{end}}
</head>
<body>
<section class="cover">
<h1>{{.Title}}</h1>
<p>{{.SourceURL}}</p>
<p>{{len .Sections}} pages, generated {{.Generated}}</p>
</section>
<nav class="toc">
<h2>Contents</h2>
<ol>
{{range .Sections}}<li><a href="#{{.Anchor}}">{{.Title}}</a></li>
{{end}}</ol>
</nav>
{{range .Sections}}<section class="page" id="{{.Anchor}}">
<header><h1>{{.Title}}</h1><p class="source">{{.URL}}</p></header>
{{.Body}}
</section>
{{end}}</body>
</html>
`))

// composeDocument builds one HTML document holding every page in order.
// Sections are prepared concurrently; one prepared-page update is reported
// per page.
func composeDocument(
	ctx context.Context,
	pages []pipeline.PageRecord,
	sourceURL string,
	now time.Time,
	report progress.Reporter,
) (string, error) {
	sections := make([]section, len(pages))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prepareParallelism)
	for i, page := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sec, err := prepareSection(i, page)
			if err != nil {
				return fmt.Errorf("prepare %s: %w", page.URL, err)
			}
			sections[i] = sec
			n := int(done.Add(1))
			report.Report(progress.Update{
				Message:    "Prepared page: " + sec.Title,
				URL:        page.URL,
				Current:    n,
				Total:      len(pages),
				Percentage: progress.Percent(n, len(pages)) * 40 / 100,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	doc := document{
		Title:     documentTitle(pages, sourceURL),
		SourceURL: sourceURL,
		Generated: now.Format("2006-01-02 15:04"),
		Sections:  sections,
	}
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, doc); err != nil {
		return "", fmt.Errorf("execute document template: %w", err)
	}
	return buf.String(), nil
}

func documentTitle(pages []pipeline.PageRecord, sourceURL string) string {
	if len(pages) > 0 && strings.TrimSpace(pages[0].Title) != "" {
		return strings.TrimSpace(pages[0].Title)
	}
	if u, err := url.Parse(sourceURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return sourceURL
}

// prepareSection extracts the body and styles of a page and rewrites relative
// references against the page URL, since sections share one document.
func prepareSection(index int, page pipeline.PageRecord) (section, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		return section{}, fmt.Errorf("parse html: %w", err)
	}
	base, _ := url.Parse(page.URL)
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && base != nil {
		if resolved, err := base.Parse(href); err == nil {
			base = resolved
		}
	}
	if base != nil {
		absolutize(doc, base, "src")
		absolutize(doc, base, "href")
	}

	var styles strings.Builder
	doc.Find(`head style, head link[rel="stylesheet"]`).Each(func(_ int, s *goquery.Selection) {
		if h, err := goquery.OuterHtml(s); err == nil {
			styles.WriteString(h)
		}
	})

	body := doc.Find("body").First()
	body.Find("script, noscript").Remove()
	inner, err := body.Html()
	if err != nil {
		return section{}, fmt.Errorf("serialize body: %w", err)
	}

	title := strings.TrimSpace(page.Title)
	if title == "" {
		title = page.URL
	}
	return section{
		Anchor: fmt.Sprintf("page-%d", index+1),
		Title:  title,
		URL:    page.URL,
		//nolint:gosec // crawled markup, printed by the browser
		Styles: template.HTML(styles.String()),
		//nolint:gosec // crawled markup, printed by the browser
		Body: template.HTML(inner),
	}, nil
}

func absolutize(doc *goquery.Document, base *url.URL, attr string) {
	doc.Find("[" + attr + "]").Each(func(_ int, s *goquery.Selection) {
		if s.Is("base") {
			return
		}
		raw, _ := s.Attr(attr)
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "data:") {
			return
		}
		if resolved, err := base.Parse(raw); err == nil {
			s.SetAttr(attr, resolved.String())
		}
	})
}

// singleDocument returns the page HTML with a base element so relative
// references resolve when the markup is loaded from memory.
func singleDocument(page pipeline.PageRecord) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	if doc.Find("base[href]").Length() == 0 && page.URL != "" {
		doc.Find("head").First().PrependHtml(`<base href="` + template.HTMLEscapeString(page.URL) + `">`)
	}
	if doc.Find("head > title").Length() == 0 && page.Title != "" {
		doc.Find("head").First().AppendHtml("<title>" + template.HTMLEscapeString(page.Title) + "</title>")
	}
	return doc.Html()
}
