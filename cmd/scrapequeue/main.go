package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/config"
	"github.com/JakeFAU/scrape-queue/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	batchPath := flag.String("batch", "", "File of source references to enqueue at startup, one per line")
	autostart := flag.Bool("autostart", false, "Start processing once the batch is enqueued")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := server.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}

	if *batchPath != "" {
		refs, err := server.ReadBatchFile(*batchPath)
		if err != nil {
			zap.L().Error("batch load failed", zap.String("path", *batchPath), zap.Error(err))
			_ = app.Close(ctx)
			os.Exit(1)
		}
		if _, err := app.Submit(ctx, refs, *autostart); err != nil {
			zap.L().Error("batch submit failed", zap.Error(err))
		}
	}

	if err := app.Run(ctx); err != nil {
		zap.L().Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}
