package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-queue/internal/dispatcher"
)

type stubEngine struct{ stats dispatcher.Stats }

func (s stubEngine) Stats() dispatcher.Stats { return s.stats }

type stubHub struct{}

func (stubHub) Observers() int       { return 2 }
func (stubHub) ObserverDrops() int64 { return 7 }
func (stubHub) BufferDrops() int64   { return 1 }

func TestMiddlewareRecordsRoutes(t *testing.T) {
	t.Parallel()

	m, err := New()
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/implicit", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/v1/jobs/a", "/v1/jobs/b", "/missing", "/implicit"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, 3, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "200")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "404")), 0)
	require.Equal(t, 3, testutil.CollectAndCount(m.httpDuration))
}

func TestRegisterEngineAndHub(t *testing.T) {
	t.Parallel()

	m, err := New()
	require.NoError(t, err)
	require.NoError(t, m.RegisterEngine(stubEngine{stats: dispatcher.Stats{
		Pending: 4, Running: 2, Completed: 9, Concurrency: 3, Processing: true,
	}}))
	require.NoError(t, m.RegisterHub(stubHub{}))
	require.Error(t, m.RegisterHub(stubHub{}), "duplicate registration")

	expected := `
# HELP scrapeq_queue_pending Jobs waiting in the pending queue.
# TYPE scrapeq_queue_pending gauge
scrapeq_queue_pending 4
# HELP scrapeq_processing 1 while a processing run is active.
# TYPE scrapeq_processing gauge
scrapeq_processing 1
# HELP scrapeq_observer_drops_total Events dropped for observers that fell behind.
# TYPE scrapeq_observer_drops_total counter
scrapeq_observer_drops_total 7
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"scrapeq_queue_pending", "scrapeq_processing", "scrapeq_observer_drops_total"))
}

func TestObserveSubmissionAndDelay(t *testing.T) {
	t.Parallel()

	m, err := New()
	require.NoError(t, err)
	m.ObserveSubmission(5, 3)
	m.ObserveSubmission(2, 2)
	m.ObserveRateLimitDelay("stats.example.org", 1500*time.Millisecond)

	require.InDelta(t, 5, testutil.ToFloat64(m.submissions.WithLabelValues("accepted")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(m.submissions.WithLabelValues("skipped")), 0)
	require.Equal(t, 1, testutil.CollectAndCount(m.rateLimitDelay))
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	m, err := New()
	require.NoError(t, err)
	m.ObserveSubmission(1, 1)

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `scrapeq_submissions_total{result="accepted"} 1`)
	require.Contains(t, string(body), "go_goroutines")
}
