package acquire

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	alwaysStripped = []string{"script", "noscript", "iframe", "object", "embed"}
	imageSelectors = []string{"img", "picture", "video", "audio", "svg", "source"}
	styleSelectors = []string{"style", `link[rel="stylesheet"]`, `link[rel="preload"][as="style"]`}
)

// processPage extracts the title and prepares the HTML for rendering: scripts
// are removed, images and styles are removed unless requested, and a base
// element is added so relative references resolve against pageURL.
func processPage(body []byte, pageURL string, includeImages, includeStyles bool) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("head > title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = pageURL
	}

	remove(doc, alwaysStripped)
	if !includeImages {
		remove(doc, imageSelectors)
	}
	if !includeStyles {
		remove(doc, styleSelectors)
		doc.Find("[style]").RemoveAttr("style")
	}

	head := doc.Find("head").First()
	if head.Length() > 0 {
		head.Find("base").Remove()
		head.PrependHtml(fmt.Sprintf(`<base href="%s">`, escapeAttr(pageURL)))
	}

	html, err := doc.Html()
	if err != nil {
		return "", "", fmt.Errorf("serialize html: %w", err)
	}
	return title, html, nil
}

func remove(doc *goquery.Document, selectors []string) {
	for _, sel := range selectors {
		doc.Find(sel).Remove()
	}
}

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `"`, "&#34;", `<`, "&lt;", `>`, "&gt;")

func escapeAttr(s string) string {
	return attrEscaper.Replace(s)
}
