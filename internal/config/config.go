// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scrape-queue/internal/dispatcher"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Launch     LaunchConfig     `mapstructure:"launch"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	// AllowedOrigins lists browser origins allowed to open the websocket.
	// Empty means same-origin only; "*" allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SubmissionConfig defines which references are accepted and how absent
// segments are filled.
type SubmissionConfig struct {
	Origin      string `mapstructure:"origin"`
	PathMarker  string `mapstructure:"path_marker"`
	Epoch       string `mapstructure:"default_epoch"`
	Competition string `mapstructure:"default_competition"`
	Region      string `mapstructure:"default_region"`
	Phase       string `mapstructure:"default_phase"`
	Round       string `mapstructure:"default_round"`
}

// SchedulerConfig holds the initial worker ceiling.
type SchedulerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// WorkerConfig describes the worker and converter binaries.
type WorkerConfig struct {
	ScrapeCommand  string        `mapstructure:"scrape_command"`
	ScrapeArgs     []string      `mapstructure:"scrape_args"`
	ConvertCommand string        `mapstructure:"convert_command"`
	ConvertArgs    []string      `mapstructure:"convert_args"`
	WorkDir        string        `mapstructure:"work_dir"`
	ScrapeTimeout  time.Duration `mapstructure:"scrape_timeout"`
	ConvertTimeout time.Duration `mapstructure:"convert_timeout"`
	KillGrace      time.Duration `mapstructure:"kill_grace"`
	Render         bool          `mapstructure:"render"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// LaunchConfig throttles launches per origin.
type LaunchConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// StorageConfig selects the artifact backend.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	GCSEndpoint string `mapstructure:"gcs_endpoint"`
	Prefix      string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the event hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	ObserverBuffer int           `mapstructure:"observer_buffer"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Storage backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPEQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("submission.origin", "https://stats.example.org")
	v.SetDefault("submission.path_marker", "/stats/")
	v.SetDefault("submission.default_epoch", "all-time")
	v.SetDefault("submission.default_competition", "all")
	v.SetDefault("submission.default_region", "global")
	v.SetDefault("submission.default_phase", "all")
	v.SetDefault("submission.default_round", "all")

	v.SetDefault("scheduler.concurrency", dispatcher.DefaultConcurrency)

	v.SetDefault("worker.scrape_command", "scrapeworker")
	v.SetDefault("worker.scrape_args", []string{})
	v.SetDefault("worker.convert_command", "convertworker")
	v.SetDefault("worker.convert_args", []string{})
	v.SetDefault("worker.work_dir", "")
	v.SetDefault("worker.scrape_timeout", "2m")
	v.SetDefault("worker.convert_timeout", "1m")
	v.SetDefault("worker.kill_grace", "5s")
	v.SetDefault("worker.render", false)
	v.SetDefault("worker.user_agent", "scrape-queue/0.1")

	v.SetDefault("launch.rate_per_second", 1.0)
	v.SetDefault("launch.burst", 2)

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.local_dir", "data/artifacts")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_endpoint", "")
	v.SetDefault("storage.prefix", "runs")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.observer_buffer", 256)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "5s")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server.port must be in 1..65535"))
	}
	if u, err := url.Parse(c.Submission.Origin); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, errors.New("submission.origin must be an absolute http(s) URL"))
	}
	if strings.Trim(c.Submission.PathMarker, "/ ") == "" {
		errs = append(errs, errors.New("submission.path_marker is required"))
	}
	if c.Scheduler.Concurrency < dispatcher.MinConcurrency || c.Scheduler.Concurrency > dispatcher.MaxConcurrency {
		errs = append(errs, fmt.Errorf("scheduler.concurrency must be in %d..%d",
			dispatcher.MinConcurrency, dispatcher.MaxConcurrency))
	}
	if strings.TrimSpace(c.Worker.ScrapeCommand) == "" {
		errs = append(errs, errors.New("worker.scrape_command is required"))
	}
	if strings.TrimSpace(c.Worker.ConvertCommand) == "" {
		errs = append(errs, errors.New("worker.convert_command is required"))
	}
	if c.Worker.ScrapeTimeout <= 0 || c.Worker.ConvertTimeout <= 0 {
		errs = append(errs, errors.New("worker timeouts must be > 0"))
	}
	if c.Launch.RatePerSecond < 0 || c.Launch.Burst < 0 {
		errs = append(errs, errors.New("launch.rate_per_second and launch.burst must be >= 0"))
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local backend"))
		}
	case BackendGCS:
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			errs = append(errs, errors.New("storage.gcs_bucket is required for the gcs backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of local, gcs, memory", c.Storage.Backend))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id must be set when pubsub.topic_name is"))
	}
	if c.Progress.ObserverBuffer <= 0 || c.Progress.BufferSize <= 0 {
		errs = append(errs, errors.New("progress buffers must be > 0"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
