// Package document converts fetched HTML into markdown plus page metadata.
package document

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/k3a/html2text"
)

// Defaults applied when a page omits the corresponding element.
const (
	DefaultTitle    = "No Title"
	DefaultViewport = "width=device-width, initial-scale=1"
)

// Document is the normalized form of one page.
type Document struct {
	Markdown string
	Title    string
	Viewport string
}

// Converter turns HTML into a Document.
type Converter struct {
	// KeepLinks renders anchors as [text](href) instead of bare text.
	KeepLinks bool
}

// NewConverter returns a Converter that keeps links.
func NewConverter() *Converter {
	return &Converter{KeepLinks: true}
}

// Convert parses body and renders it. Markup the parser cannot make sense of
// is still returned as text; only reader failures produce an error.
func (c *Converter) Convert(body []byte) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}
	out := Document{
		Title:    DefaultTitle,
		Viewport: DefaultViewport,
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		out.Title = title
	}
	if vp, ok := doc.Find(`meta[name="viewport"]`).First().Attr("content"); ok {
		out.Viewport = vp
	}

	doc.Find("script, style, noscript, template, svg").Remove()
	for level := 1; level <= 6; level++ {
		prefix := strings.Repeat("#", level) + " "
		doc.Find(fmt.Sprintf("h%d", level)).PrependHtml(prefix)
	}
	doc.Find("li").PrependHtml("- ")
	if c.KeepLinks {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			text := strings.TrimSpace(s.Text())
			if text == "" || strings.HasPrefix(href, "javascript:") {
				return
			}
			s.ReplaceWithHtml(html.EscapeString(fmt.Sprintf("[%s](%s)", text, href)))
		})
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	markup, err := root.Html()
	if err != nil {
		return Document{}, fmt.Errorf("render html: %w", err)
	}
	out.Markdown = strings.TrimSpace(html2text.HTML2TextWithOptions(markup, html2text.WithUnixLineBreaks()))
	return out, nil
}
