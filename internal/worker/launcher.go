// Package worker runs one job attempt end to end: it launches the scrape
// worker process, then the converter, and uploads the converted artifacts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/job"
	"github.com/JakeFAU/scrape-queue/internal/progress"
	"github.com/JakeFAU/scrape-queue/internal/scrape"
)

// ArtifactStore persists converted artifacts and returns their URIs.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Throttle delays launches against the same origin.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls the worker commands and their limits.
type Config struct {
	ScrapeCommand  string
	ScrapeArgs     []string
	ConvertCommand string
	ConvertArgs    []string
	WorkDir        string
	ScrapeTimeout  time.Duration
	ConvertTimeout time.Duration
	Render         bool
	UserAgent      string
	ArtifactPrefix string

	// KillGrace bounds how long to wait for output pipes after a kill.
	KillGrace time.Duration
}

// Launcher implements job.Runner with one isolated subprocess pipeline per job.
type Launcher struct {
	cfg      Config
	store    ArtifactStore
	throttle Throttle
	emitter  progress.Emitter
	ids      IDGenerator
	clock    job.Clock
	runner   commandRunner
	logger   *zap.Logger
}

// Option customizes a Launcher.
type Option func(*Launcher)

// WithThrottle rate limits launches.
func WithThrottle(t Throttle) Option {
	return func(l *Launcher) { l.throttle = t }
}

// WithEmitter publishes stage events.
func WithEmitter(e progress.Emitter) Option {
	return func(l *Launcher) {
		if e != nil {
			l.emitter = e
		}
	}
}

// WithClock overrides the event clock.
func WithClock(c job.Clock) Option {
	return func(l *Launcher) { l.clock = c }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// withCommandRunner swaps process execution in tests.
func withCommandRunner(r commandRunner) Option {
	return func(l *Launcher) { l.runner = r }
}

// NewLauncher validates cfg and builds a Launcher.
func NewLauncher(cfg Config, store ArtifactStore, ids IDGenerator, opts ...Option) (*Launcher, error) {
	if strings.TrimSpace(cfg.ScrapeCommand) == "" {
		return nil, errors.New("scrape command is required")
	}
	if strings.TrimSpace(cfg.ConvertCommand) == "" {
		return nil, errors.New("convert command is required")
	}
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	l := &Launcher{
		cfg:     cfg,
		store:   store,
		emitter: progress.NopEmitter{},
		ids:     ids,
		runner:  execRunner{waitDelay: cfg.KillGrace},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("worker")
	return l, nil
}

// Run executes the scrape and convert stages for j and uploads the result.
// The work directory is removed on every path.
func (l *Launcher) Run(ctx context.Context, j job.Job) job.Outcome {
	runID, err := l.ids.NewID()
	if err != nil {
		return l.fail(ctx, j, &StageError{Kind: KindSetup, Message: "allocate run id", Err: err})
	}
	logger := l.logger.With(zap.String("job_id", j.ID), zap.String("run_id", runID))

	handle, err := OpenHandle(l.cfg.WorkDir, runID)
	if err != nil {
		return l.fail(ctx, j, &StageError{Kind: KindSetup, Err: err})
	}
	defer func() {
		if err := handle.Close(); err != nil {
			logger.Warn("work dir cleanup failed", zap.String("dir", handle.Dir), zap.Error(err))
		}
	}()

	if l.throttle != nil {
		if err := l.throttle.Wait(ctx, j.Source); err != nil {
			return l.fail(ctx, j, &StageError{Kind: KindSetup, Message: "launch throttle", Err: err})
		}
	}

	l.emit(j, progress.StageScraping, j.Source)
	count, err := l.scrape(ctx, j, handle)
	if err != nil {
		return l.fail(ctx, j, err)
	}
	logger.Debug("scrape finished", zap.Intp("extracted", count))

	l.emit(j, progress.StageConverting, extractedMessage(count))
	if err := l.convert(ctx, j, handle); err != nil {
		return l.fail(ctx, j, err)
	}

	artifacts, err := l.upload(ctx, j, handle)
	if err != nil {
		return l.fail(ctx, j, err)
	}

	outcome := job.Succeeded(count, artifacts)
	l.emitter.Emit(progress.Processing(j, progress.StageCompleted,
		fmt.Sprintf("%d artifacts", len(artifacts)), l.now()).WithOutcome(outcome))
	logger.Info("job completed", zap.Int("artifacts", len(artifacts)))
	return outcome
}

func (l *Launcher) scrape(ctx context.Context, j job.Job, h *Handle) (*int, error) {
	req := scrape.Request{
		JobID:          j.ID,
		Source:         j.Source,
		OutputName:     j.OutputName,
		OutputPath:     h.RawPath,
		UserAgent:      l.cfg.UserAgent,
		Render:         l.cfg.Render,
		TimeoutSeconds: int(l.cfg.ScrapeTimeout / time.Second),
	}
	if err := h.WriteConfig(req); err != nil {
		return nil, &StageError{Kind: KindScrapeFailed, Message: "write config", Err: err}
	}
	defer func() {
		if err := h.RemoveConfig(); err != nil {
			l.logger.Warn("config cleanup failed", zap.String("job_id", j.ID), zap.Error(err))
		}
	}()

	args := append(append([]string(nil), l.cfg.ScrapeArgs...), "-config", h.ConfigPath)
	res, err := l.exec(ctx, l.cfg.ScrapeTimeout, h.Dir, l.cfg.ScrapeCommand, args)
	if err != nil {
		return nil, &StageError{
			Kind:       KindScrapeFailed,
			CommandLog: commandLog(l.cfg.ScrapeCommand, args, res),
			Err:        err,
		}
	}
	if _, err := os.Stat(h.RawPath); err != nil {
		return nil, &StageError{
			Kind:       KindScrapeFailed,
			Message:    "raw artifact missing",
			CommandLog: commandLog(l.cfg.ScrapeCommand, args, res),
			Err:        err,
		}
	}
	return parseExtractedCount(res.Stdout), nil
}

func (l *Launcher) convert(ctx context.Context, j job.Job, h *Handle) error {
	args := append(append([]string(nil), l.cfg.ConvertArgs...),
		"-in", h.RawPath, "-out", h.OutDir, "-name", j.OutputName)
	res, err := l.exec(ctx, l.cfg.ConvertTimeout, h.Dir, l.cfg.ConvertCommand, args)
	if err != nil {
		return &StageError{
			Kind:       KindConversionFailed,
			CommandLog: commandLog(l.cfg.ConvertCommand, args, res),
			Err:        err,
		}
	}
	return nil
}

func (l *Launcher) upload(ctx context.Context, j job.Job, h *Handle) ([]string, error) {
	entries, err := os.ReadDir(h.OutDir)
	if err != nil {
		return nil, &StageError{Kind: KindConversionFailed, Message: "read output dir", Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, &StageError{Kind: KindConversionFailed, Message: "converter produced no artifacts"}
	}
	sort.Strings(names)

	uris := make([]string, 0, len(names))
	for _, name := range names {
		objectPath := path.Join(l.cfg.ArtifactPrefix, j.OutputName, name)
		uri, err := l.putFile(ctx, filepath.Join(h.OutDir, name), objectPath)
		if err != nil {
			return nil, &StageError{Kind: KindArtifactUploadFailed, Message: name, Err: err}
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

func (l *Launcher) putFile(ctx context.Context, localPath, objectPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	uri, err := l.store.PutObject(ctx, objectPath, contentTypeFor(localPath), f)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

func (l *Launcher) exec(
	ctx context.Context,
	timeout time.Duration,
	dir, name string,
	args []string,
) (commandResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return l.runner.Run(ctx, dir, name, args...)
}

func (l *Launcher) fail(ctx context.Context, j job.Job, err error) job.Outcome {
	var stageErr *StageError
	kind := KindSetup
	if errors.As(err, &stageErr) {
		kind = stageErr.Kind
	}
	outcome := job.Failed(kind.Stage(), err)
	outcome.Stderr = stageErr.StderrTail()
	message := err.Error()
	if ctx.Err() != nil {
		message = "stopped"
	}
	l.emitter.Emit(progress.Processing(j, progress.StageError, message, l.now()).WithOutcome(outcome))
	l.logger.Warn("job failed",
		zap.String("job_id", j.ID),
		zap.String("source", j.Source),
		zap.String("stage", kind.Stage()),
		zap.Error(err),
	)
	return outcome
}

func (l *Launcher) emit(j job.Job, stage progress.Stage, message string) {
	l.emitter.Emit(progress.Processing(j, stage, message, l.now()))
}

func (l *Launcher) now() time.Time {
	if l.clock == nil {
		return time.Now().UTC()
	}
	return l.clock.Now()
}

func commandLog(name string, args []string, res commandResult) CommandLog {
	return CommandLog{
		Command:  name,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
}

func extractedMessage(count *int) string {
	if count == nil {
		return ""
	}
	return fmt.Sprintf("Extracted %d items", *count)
}

func contentTypeFor(name string) string {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".jsonl", ".ndjson":
		return "application/x-ndjson"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}
