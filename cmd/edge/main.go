// Command edge runs a fogline edge node: it observes people counts from
// one or more sensors, classifies them locally, and delivers events to
// the cloud gateway, buffering to disk whenever the gateway is
// unreachable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fogline/fogline/pkg/fogline/buffer"
	"github.com/fogline/fogline/pkg/fogline/config"
	"github.com/fogline/fogline/pkg/fogline/edge"
	"github.com/fogline/fogline/pkg/fogline/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "edge:", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env for local development; ignore if absent.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger := observability.NewLogger(os.Getenv("FOGLINE_LOG_LEVEL"))
	slog.SetDefault(logger)

	cfg, err := config.LoadEdge(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buf, err := buffer.New(cfg.BufferFile, cfg.BufferMax)
	if err != nil {
		return fmt.Errorf("open buffer: %w", err)
	}

	sources := make([]edge.Source, 0, len(cfg.SourceIDs))
	for _, id := range cfg.SourceIDs {
		sources = append(sources, edge.SelectSource(ctx, cfg.Mode, id, cfg.LiveFeedURL, logger))
	}

	sender := edge.NewSender(cfg.Endpoint, cfg.APIKey, cfg.SendTimeout.Std())
	metrics := observability.NewMetricsRecorder()

	loop := edge.NewLoop(edge.LoopConfig{
		Sources: sources,
		Thresholds: edge.Thresholds{
			PeopleHigh: cfg.Thresholds.PeopleHigh,
			RapidRise:  cfg.Thresholds.RapidRise,
		},
		Interval:        cfg.SendInterval.Std(),
		FlushInterval:   cfg.FlushInterval.Std(),
		MinSendInterval: cfg.MinSendInterval.Std(),
	}, sender, buf, logger, metrics)

	logger.Info("edge node starting",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("mode", cfg.Mode),
		slog.Int("sources", len(sources)),
	)

	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("edge node stopped")
	return nil
}
