package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-queue/internal/scrape"
)

const standingsPage = `<html><body>
<table id="standings">
  <thead><tr><th>Team</th><th>Points</th></tr></thead>
  <tbody>
    <tr><td>Rovers</td><td>31</td></tr>
    <tr><td>United</td><td>28</td></tr>
  </tbody>
</table>
</body></html>`

func writeRequest(t *testing.T, source string) scrape.Request {
	t.Helper()
	dir := t.TempDir()
	req := scrape.Request{
		JobID:          "job-1",
		Source:         source,
		OutputName:     "2024_cup",
		OutputPath:     filepath.Join(dir, "raw.json"),
		UserAgent:      "scrape-queue-test",
		TimeoutSeconds: 10,
	}
	require.NoError(t, scrape.WriteRequest(filepath.Join(dir, "config.json"), req))
	return req
}

func TestRunWritesRawArtifact(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(standingsPage))
	}))
	t.Cleanup(srv.Close)

	req := writeRequest(t, srv.URL+"/stats/2024/cup")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-config", filepath.Join(filepath.Dir(req.OutputPath), "config.json"),
		"-robots=false",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Equal(t, "Extracted 2 items\n", stdout.String())

	raw, err := scrape.ReadRaw(req.OutputPath)
	require.NoError(t, err)
	require.Equal(t, "job-1", raw.JobID)
	require.Equal(t, http.StatusOK, raw.StatusCode)
	require.Len(t, raw.Tables, 1)
	require.Equal(t, []string{"Team", "Points"}, raw.Tables[0].Headers)
}

func TestRunFailsOnErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	req := writeRequest(t, srv.URL+"/stats/missing")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-config", filepath.Join(filepath.Dir(req.OutputPath), "config.json"),
		"-robots=false",
	}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Empty(t, stdout.String())
	require.Contains(t, stderr.String(), "unexpected status 404")
	require.NoFileExists(t, req.OutputPath)
}

func TestRunRequiresConfig(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	require.Equal(t, 2, run(context.Background(), nil, &stdout, &stderr))
	require.Contains(t, stderr.String(), "-config is required")
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "absent.json")}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "read scrape request")
}
