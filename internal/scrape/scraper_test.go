package scrape

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	page  Page
	err   error
	calls int
	last  FetchRequest
}

func (s *stubFetcher) Fetch(_ context.Context, req FetchRequest) (Page, error) {
	s.calls++
	s.last = req
	return s.page, s.err
}

const tablePage = `<table><tr><th>a</th></tr><tr><td>1</td></tr><tr><td>2</td></tr></table>`

func testRequest() Request {
	return Request{
		JobID:          "job-1",
		Source:         "https://stats.example.org/stats/2024",
		OutputName:     "2024_all_global_all_all",
		OutputPath:     "/tmp/raw.json",
		UserAgent:      "scrapeq-test",
		TimeoutSeconds: 5,
	}
}

func fixedNow() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func TestScraperStaticFetch(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{page: Page{URL: "https://stats.example.org/stats/2024", StatusCode: http.StatusOK, Body: []byte(tablePage)}}
	rendered := &stubFetcher{}
	s := &Scraper{Static: static, Rendered: rendered, Now: fixedNow}

	raw, err := s.Scrape(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, 1, static.calls)
	require.Zero(t, rendered.calls)
	require.Equal(t, "scrapeq-test", static.last.UserAgent)
	require.Equal(t, 5*time.Second, static.last.Timeout)
	require.Equal(t, "job-1", raw.JobID)
	require.Equal(t, "2024_all_global_all_all", raw.OutputName)
	require.Equal(t, fixedNow(), raw.FetchedAt)
	require.False(t, raw.Rendered)
	require.Equal(t, 2, raw.Items())
}

func TestScraperPromotesAppShell(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{page: Page{StatusCode: http.StatusOK, Body: []byte(`<div id="app"></div>`)}}
	rendered := &stubFetcher{page: Page{StatusCode: http.StatusOK, Body: []byte(tablePage), Rendered: true}}
	s := &Scraper{Static: static, Rendered: rendered, Now: fixedNow}

	raw, err := s.Scrape(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, 1, static.calls)
	require.Equal(t, 1, rendered.calls)
	require.True(t, raw.Rendered)
	require.Equal(t, 2, raw.Items())
}

func TestScraperRenderRequested(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{}
	rendered := &stubFetcher{page: Page{StatusCode: http.StatusOK, Body: []byte(tablePage), Rendered: true}}
	req := testRequest()
	req.Render = true

	_, err := (&Scraper{Static: static, Rendered: rendered}).Scrape(context.Background(), req)
	require.NoError(t, err)
	require.Zero(t, static.calls)
	require.Equal(t, 1, rendered.calls)

	_, err = (&Scraper{Static: static}).Scrape(context.Background(), req)
	require.ErrorIs(t, err, ErrRenderUnavailable)
}

func TestScraperFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	_, err := (&Scraper{Static: &stubFetcher{err: boom}}).Scrape(context.Background(), testRequest())
	require.ErrorIs(t, err, boom)

	notFound := &stubFetcher{page: Page{URL: "https://stats.example.org/x", StatusCode: http.StatusNotFound}}
	_, err = (&Scraper{Static: notFound}).Scrape(context.Background(), testRequest())
	require.ErrorContains(t, err, "unexpected status 404")

	_, err = (&Scraper{Static: notFound}).Scrape(context.Background(), Request{})
	require.ErrorContains(t, err, "source is required")
}

func TestRawArtifactFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "raw.json")
	require.NoError(t, WriteRaw(path, Raw{JobID: "job-1", StatusCode: http.StatusOK}))

	raw, err := ReadRaw(path)
	require.NoError(t, err)
	require.Equal(t, "job-1", raw.JobID)
	require.NotNil(t, raw.Tables)
	require.Zero(t, raw.Items())

	_, err = ReadRaw(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestRequestFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scrape-config.json")
	require.NoError(t, WriteRequest(path, testRequest()))
	got, err := ReadRequest(path)
	require.NoError(t, err)
	require.Equal(t, testRequest(), got)
	require.Equal(t, time.Minute, Request{}.Timeout())

	require.NoError(t, WriteRequest(path, Request{Source: "x"}))
	_, err = ReadRequest(path)
	require.ErrorContains(t, err, "outputPath is required")
}
