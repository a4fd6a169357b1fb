package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, ":8080", cfg.Server.Addr())
	require.Equal(t, "/stats/", cfg.Submission.PathMarker)
	require.Equal(t, "all-time", cfg.Submission.Epoch)
	require.Equal(t, "global", cfg.Submission.Region)
	require.Equal(t, 3, cfg.Scheduler.Concurrency)
	require.Equal(t, 2*time.Minute, cfg.Worker.ScrapeTimeout)
	require.Equal(t, 5*time.Second, cfg.Worker.KillGrace)
	require.Equal(t, BackendLocal, cfg.Storage.Backend)
	require.Equal(t, 500*time.Millisecond, cfg.Progress.MaxBatchWait)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
server:
  port: 9090
  allowed_origins: ["https://dash.example.org"]
submission:
  origin: https://www.vlr.example.net
  path_marker: stats
  default_region: emea
scheduler:
  concurrency: 7
worker:
  scrape_command: /usr/local/bin/scrapeworker
  scrape_args: ["-v"]
  scrape_timeout: 90s
  render: true
launch:
  rate_per_second: 0.5
  burst: 1
storage:
  backend: gcs
  gcs_bucket: artifacts
  prefix: nightly
pubsub:
  project_id: proj
  topic_name: scrape-complete
progress:
  max_batch_events: 10
logging:
  development: true
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, []string{"https://dash.example.org"}, cfg.Server.AllowedOrigins)
	require.Equal(t, "https://www.vlr.example.net", cfg.Submission.Origin)
	require.Equal(t, "emea", cfg.Submission.Region)
	require.Equal(t, "all", cfg.Submission.Round)
	require.Equal(t, 7, cfg.Scheduler.Concurrency)
	require.Equal(t, []string{"-v"}, cfg.Worker.ScrapeArgs)
	require.Equal(t, 90*time.Second, cfg.Worker.ScrapeTimeout)
	require.True(t, cfg.Worker.Render)
	require.InDelta(t, 0.5, cfg.Launch.RatePerSecond, 1e-9)
	require.Equal(t, BackendGCS, cfg.Storage.Backend)
	require.Equal(t, "nightly", cfg.Storage.Prefix)
	require.Equal(t, "scrape-complete", cfg.PubSub.TopicName)
	require.Equal(t, 10, cfg.Progress.MaxBatchEvents)
	require.True(t, cfg.Logging.Development)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SCRAPEQ_SCHEDULER_CONCURRENCY", "9")
	t.Setenv("SCRAPEQ_STORAGE_BACKEND", "memory")
	t.Setenv("SCRAPEQ_WORKER_SCRAPE_TIMEOUT", "45s")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Scheduler.Concurrency)
	require.Equal(t, BackendMemory, cfg.Storage.Backend)
	require.Equal(t, 45*time.Second, cfg.Worker.ScrapeTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "origin", mutate: func(c *Config) { c.Submission.Origin = "stats.example.org" }, wantErr: "submission.origin"},
		{name: "marker", mutate: func(c *Config) { c.Submission.PathMarker = "/" }, wantErr: "path_marker"},
		{name: "concurrency high", mutate: func(c *Config) { c.Scheduler.Concurrency = 11 }, wantErr: "scheduler.concurrency"},
		{name: "concurrency low", mutate: func(c *Config) { c.Scheduler.Concurrency = 0 }, wantErr: "scheduler.concurrency"},
		{name: "scrape command", mutate: func(c *Config) { c.Worker.ScrapeCommand = " " }, wantErr: "scrape_command"},
		{name: "timeouts", mutate: func(c *Config) { c.Worker.ConvertTimeout = 0 }, wantErr: "timeouts"},
		{name: "gcs bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, wantErr: "gcs_bucket"},
		{name: "backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, wantErr: "storage.backend"},
		{name: "pubsub project", mutate: func(c *Config) { c.PubSub.TopicName = "t" }, wantErr: "pubsub.project_id"},
		{name: "launch", mutate: func(c *Config) { c.Launch.Burst = -1 }, wantErr: "launch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
	require.NoError(t, base.Validate())
}
