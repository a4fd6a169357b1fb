// Package headless renders pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/scrape-queue/internal/scrape"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettle            = 500 * time.Millisecond
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is the pause after the body is ready, for late client-side rendering.
	Settle time.Duration
	// UserDataDir is the browser profile directory. Each worker passes its own
	// so no cookies or cache are shared between jobs.
	UserDataDir string
	ExecPath    string
}

// Fetcher implements scrape.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher. The browser starts on first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, errors.New("navigation timeout must be >= 0")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}
	if cfg.UserDataDir != "" {
		if err := os.MkdirAll(cfg.UserDataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create profile dir: %w", err)
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	return &Fetcher{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates to the page and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, req scrape.FetchRequest) (scrape.Page, error) {
	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	// The browser context is rooted in the allocator, so tie it to ctx too.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	timeout := f.cfg.NavigationTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := f.render(taskCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return scrape.Page{}, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		}
		return scrape.Page{}, err
	}

	status, headers, url := meta.snapshotWithFallbacks(req.URL, finalURL)
	return scrape.Page{
		URL:        url,
		StatusCode: status,
		Header:     headers,
		Body:       []byte(html),
		Rendered:   true,
		Duration:   time.Since(start),
	}, nil
}

func (f *Fetcher) render(ctx context.Context, req scrape.FetchRequest) (string, string, error) {
	var html, finalURL string
	actions := []chromedp.Action{
		f.networkSetup(req),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetup(req scrape.FetchRequest) chromedp.Action {
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = f.cfg.UserAgent
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(req.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(req.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// responseMeta records the main document response seen on the wire.
type responseMeta struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Subframe documents arrive after the main frame.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.Lock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.Unlock()

	switch {
	case finalURL != "":
		url = finalURL
	case url == "":
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
