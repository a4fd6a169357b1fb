package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrRenderUnavailable is returned when a page needs a browser and none is configured.
var ErrRenderUnavailable = errors.New("rendered fetch not configured")

// Scraper fetches the request's page, promoting to a rendered fetch when
// asked to or when the static page is an application shell, and extracts
// its tables.
type Scraper struct {
	Static   Fetcher
	Rendered Fetcher
	Detector *RenderDetector
	Now      func() time.Time
	Logger   *zap.Logger
}

// Scrape runs req and returns the raw artifact. Non-2xx pages are failures.
func (s *Scraper) Scrape(ctx context.Context, req Request) (Raw, error) {
	if err := req.Validate(); err != nil {
		return Raw{}, err
	}
	logger := s.logger().With(zap.String("job_id", req.JobID), zap.String("source", req.Source))
	fr := FetchRequest{URL: req.Source, UserAgent: req.UserAgent, Timeout: req.Timeout()}

	var (
		page Page
		err  error
	)
	if req.Render {
		page, err = s.render(ctx, fr)
	} else {
		page, err = s.fetchStatic(ctx, fr)
		if err == nil && s.detector().NeedsRender(page) {
			logger.Info("promoting to rendered fetch", zap.Int("body_bytes", len(page.Body)))
			page, err = s.render(ctx, fr)
		}
	}
	if err != nil {
		return Raw{}, err
	}
	if page.StatusCode < http.StatusOK || page.StatusCode >= http.StatusMultipleChoices {
		return Raw{}, fmt.Errorf("unexpected status %d from %s", page.StatusCode, page.URL)
	}

	tables, err := ExtractTables(page.Body)
	if err != nil {
		return Raw{}, err
	}
	logger.Debug("page scraped",
		zap.Int("status", page.StatusCode),
		zap.Bool("rendered", page.Rendered),
		zap.Int("tables", len(tables)),
		zap.Duration("duration", page.Duration),
	)
	return Raw{
		JobID:      req.JobID,
		Source:     req.Source,
		OutputName: req.OutputName,
		FinalURL:   page.URL,
		StatusCode: page.StatusCode,
		Rendered:   page.Rendered,
		FetchedAt:  s.now(),
		Tables:     tables,
	}, nil
}

func (s *Scraper) fetchStatic(ctx context.Context, fr FetchRequest) (Page, error) {
	if s.Static == nil {
		return s.render(ctx, fr)
	}
	page, err := s.Static.Fetch(ctx, fr)
	if err != nil {
		return Page{}, fmt.Errorf("static fetch: %w", err)
	}
	return page, nil
}

func (s *Scraper) render(ctx context.Context, fr FetchRequest) (Page, error) {
	if s.Rendered == nil {
		return Page{}, ErrRenderUnavailable
	}
	page, err := s.Rendered.Fetch(ctx, fr)
	if err != nil {
		return Page{}, fmt.Errorf("rendered fetch: %w", err)
	}
	return page, nil
}

func (s *Scraper) detector() *RenderDetector {
	if s.Detector == nil {
		return NewRenderDetector(0)
	}
	return s.Detector
}

func (s *Scraper) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func (s *Scraper) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
