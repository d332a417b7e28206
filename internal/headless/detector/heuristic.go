// Package detector decides when a probe response needs a headless render.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/url-ingest/internal/ingest"
)

const (
	defaultMinVisibleText = 200
	scriptShareThreshold  = 0.25
)

// mountPoints are empty container elements client-side frameworks render into.
var mountPoints = []string{"#__next", "#root", "#app", "[data-reactroot]", "[ng-app]", "#__nuxt"}

// Heuristic promotes pages that look client-rendered.
type Heuristic struct {
	// MinVisibleText is the amount of visible body text below which a
	// script-heavy page is promoted.
	MinVisibleText int
}

var _ ingest.HeadlessDetector = (*Heuristic)(nil)

// NewHeuristic returns a detector. A non-positive threshold selects the default.
func NewHeuristic(minVisibleText int) *Heuristic {
	if minVisibleText <= 0 {
		minVisibleText = defaultMinVisibleText
	}
	return &Heuristic{MinVisibleText: minVisibleText}
}

// ShouldPromote reports whether the probe should be re-fetched headlessly.
// Only successful HTML responses are considered.
func (h *Heuristic) ShouldPromote(probe ingest.FetchResponse) bool {
	if probe.StatusCode != http.StatusOK {
		return false
	}
	if ct := probe.Headers.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return false
	}
	if len(bytes.TrimSpace(probe.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(probe.Body))
	if err != nil {
		return false
	}

	scriptBytes := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			scriptBytes += len(html)
		}
	})
	doc.Find("script, style, noscript, template").Remove()
	visible := len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))

	if visible < h.MinVisibleText {
		for _, sel := range mountPoints {
			if doc.Find(sel).Length() > 0 {
				return true
			}
		}
		if float64(scriptBytes)/float64(len(probe.Body)) >= scriptShareThreshold {
			return true
		}
	}
	return false
}
