// Package collyfetcher implements scrape.Fetcher with a plain HTTP GET through gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/scrape-queue/internal/scrape"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements scrape.Fetcher using the Colly collector.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Error statuses are returned as pages, not errors,
// so callers see the status code.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, base: c}
}

// Fetch executes a single HTTP GET.
func (f *Fetcher) Fetch(ctx context.Context, req scrape.FetchRequest) (scrape.Page, error) {
	var (
		page     scrape.Page
		fetchErr error
	)
	collector := f.buildCollector(req)
	f.configureHooks(collector, req, time.Now(), &page, &fetchErr)
	if err := run(ctx, collector, req.URL, &fetchErr); err != nil {
		return scrape.Page{}, err
	}
	return page, nil
}

func (f *Fetcher) buildCollector(req scrape.FetchRequest) *colly.Collector {
	collector := f.base.Clone()
	switch {
	case req.UserAgent != "":
		collector.UserAgent = req.UserAgent
	case f.cfg.UserAgent != "":
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

func (f *Fetcher) configureHooks(
	hooks collectorHooks,
	req scrape.FetchRequest,
	start time.Time,
	page *scrape.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		var header http.Header
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		*page = scrape.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func run(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
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
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
	}
}
