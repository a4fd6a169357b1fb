package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-queue/internal/scrape"
)

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func TestFetchReturnsPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-UA", r.UserAgent())
		w.Header().Set("X-Trace", r.Header.Get("X-Trace"))
		_, _ = w.Write([]byte("<table><tr><td>1</td></tr></table>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "default-agent", Timeout: time.Second})
	req := scrape.FetchRequest{URL: srv.URL + "/stats", UserAgent: "job-agent", Headers: http.Header{"X-Trace": {"abc"}}}
	for range 2 {
		page, err := f.Fetch(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, page.StatusCode)
		require.Equal(t, srv.URL+"/stats", page.URL)
		require.Contains(t, string(page.Body), "<table>")
		require.Equal(t, "job-agent", page.Header.Get("X-UA"))
		require.Equal(t, "abc", page.Header.Get("X-Trace"))
		require.False(t, page.Rendered)
	}
}

func TestFetchErrorStatusIsAPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	page, err := New(Config{}).Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, page.StatusCode)
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, scrape.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "default-agent", RespectRobots: true})
	c := f.buildCollector(scrape.FetchRequest{URL: "https://example.com"})
	require.Equal(t, "default-agent", c.UserAgent)
	require.False(t, c.IgnoreRobotsTxt)

	c = New(Config{}).buildCollector(scrape.FetchRequest{UserAgent: "override"})
	require.Equal(t, "override", c.UserAgent)
	require.True(t, c.IgnoreRobotsTxt)
}

func TestConfigureHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var (
		page     scrape.Page
		fetchErr error
	)
	hooks := &stubHooks{}
	f.configureHooks(hooks, scrape.FetchRequest{Headers: http.Header{"X-Trace": {"yes"}}}, time.Now(), &page, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	u, err := url.Parse("https://example.com/stats")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: u},
	})
	require.Equal(t, http.StatusCreated, page.StatusCode)
	require.Equal(t, "body", string(page.Body))
	require.Equal(t, "ok", page.Header.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}
