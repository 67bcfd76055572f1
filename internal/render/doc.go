// Package render turns Page Records into PDF files. Two backends implement
// pipeline.Renderer: Chromedp prints HTML through headless Chrome, and FPDF
// lays out a text rendition of the pages in pure Go for hosts without a
// browser. Multi-page documents get a cover, a table of contents and one
// section per page in crawl order.
package render
