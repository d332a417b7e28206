// Package scrape implements the fetch-transform step: fetch a URL, optionally
// re-render it headlessly, and convert the page to markdown plus metadata.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/url-ingest/internal/document"
	"github.com/JakeFAU/url-ingest/internal/ingest"
)

// Converter renders a response body.
type Converter interface {
	Convert(body []byte) (document.Document, error)
}

// Options carries the optional collaborators of a Scraper.
type Options struct {
	// Headless re-fetches pages the Detector flags. Both must be set for
	// promotion to happen.
	Headless ingest.Fetcher
	Detector ingest.HeadlessDetector
	Logger   *zap.Logger
}

// Scraper implements ingest.FetchTransformer.
type Scraper struct {
	probe     ingest.Fetcher
	headless  ingest.Fetcher
	detector  ingest.HeadlessDetector
	converter Converter
	ids       ingest.IDGenerator
	logger    *zap.Logger
}

var _ ingest.FetchTransformer = (*Scraper)(nil)

// New wires a Scraper.
func New(probe ingest.Fetcher, converter Converter, ids ingest.IDGenerator, opts Options) (*Scraper, error) {
	if probe == nil {
		return nil, errors.New("probe fetcher is required")
	}
	if converter == nil {
		return nil, errors.New("converter is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		probe:     probe,
		headless:  opts.Headless,
		detector:  opts.Detector,
		converter: converter,
		ids:       ids,
		logger:    logger,
	}, nil
}

// FetchTransform never returns an error; failures are described by the Result.
func (s *Scraper) FetchTransform(ctx context.Context, rawURL string) ingest.Result {
	if err := validateURL(rawURL); err != nil {
		return ingest.ErrorResult(rawURL, err)
	}
	resp, err := s.fetch(ctx, rawURL)
	if err != nil {
		return ingest.ErrorResult(rawURL, err)
	}

	doc, err := s.converter.Convert(resp.Body)
	if err != nil {
		return ingest.ErrorResult(rawURL, fmt.Errorf("convert %s: %w", rawURL, err))
	}
	scrapeID, err := s.ids.NewID()
	if err != nil {
		return ingest.ErrorResult(rawURL, err)
	}
	status := resp.StatusCode
	return ingest.Result{
		Markdown: doc.Markdown,
		Metadata: ingest.Metadata{
			Title:      doc.Title,
			Viewport:   doc.Viewport,
			SourceURL:  rawURL,
			URL:        resp.URL,
			StatusCode: &status,
			ScrapeID:   scrapeID,
		},
	}
}

func (s *Scraper) fetch(ctx context.Context, rawURL string) (ingest.FetchResponse, error) {
	req := ingest.FetchRequest{URL: rawURL}
	resp, err := s.probe.Fetch(ctx, req)
	if err != nil {
		return ingest.FetchResponse{}, err
	}
	if s.headless == nil || s.detector == nil || !s.detector.ShouldPromote(resp) {
		return resp, nil
	}

	rendered, err := s.headless.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ingest.FetchResponse{}, err
		}
		s.logger.Warn("headless render failed; using probe response",
			zap.String("url", rawURL), zap.Error(err))
		return resp, nil
	}
	s.logger.Debug("page rendered headlessly",
		zap.String("url", rawURL), zap.Duration("duration", rendered.Duration))
	return rendered, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", raw)
	}
	return nil
}
