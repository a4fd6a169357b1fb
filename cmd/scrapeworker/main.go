// Package main is the worker process launched once per job. It reads the
// JSON request named by -config, fetches the page, extracts its tables and
// writes the raw artifact to the request's output path.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/config"
	"github.com/JakeFAU/scrape-queue/internal/logging"
	"github.com/JakeFAU/scrape-queue/internal/scrape"
	collyfetcher "github.com/JakeFAU/scrape-queue/internal/scrape/colly"
	headlessfetcher "github.com/JakeFAU/scrape-queue/internal/scrape/headless"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scrapeworker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "Path to the JSON scrape request")
	logLevel := fs.String("log-level", "warn", "Minimum log level")
	respectRobots := fs.Bool("robots", true, "Honor robots.txt")
	chromePath := fs.String("chrome", "", "Browser executable for rendered fetches")
	renderThreshold := fs.Int("render-threshold", 0, "Body size below which script-heavy pages are rendered")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *cfgPath == "" {
		fmt.Fprintln(stderr, "-config is required")
		return 2
	}

	logger, err := logging.New(config.LoggingConfig{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	req, err := scrape.ReadRequest(*cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	scraper := &scrape.Scraper{
		Static: collyfetcher.New(collyfetcher.Config{
			UserAgent:     req.UserAgent,
			RespectRobots: *respectRobots,
			Timeout:       req.Timeout(),
		}),
		Detector: scrape.NewRenderDetector(*renderThreshold),
		Now:      func() time.Time { return time.Now().UTC() },
		Logger:   logger,
	}
	// The profile lives in the job's work directory and is removed with it.
	rendered, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		UserAgent:   req.UserAgent,
		UserDataDir: filepath.Join(filepath.Dir(req.OutputPath), "profile"),
		ExecPath:    *chromePath,
	})
	if err != nil {
		logger.Warn("rendered fetch unavailable", zap.Error(err))
	} else {
		defer rendered.Close()
		scraper.Rendered = rendered
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout())
	defer cancel()

	raw, err := scraper.Scrape(ctx, req)
	if err != nil {
		fmt.Fprintf(stderr, "scrape %s: %v\n", req.Source, err)
		return 1
	}
	if err := scrape.WriteRaw(req.OutputPath, raw); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "Extracted %d items\n", raw.Items())
	return 0
}
