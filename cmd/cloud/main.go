// Command cloud runs the fogline cloud side in one process: the HTTP
// ingestion gateway, the in-process transport queue, the exactly-once
// event processor, and the downstream topic consumers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fogline/fogline/pkg/fogline/config"
	"github.com/fogline/fogline/pkg/fogline/event"
	"github.com/fogline/fogline/pkg/fogline/gateway"
	"github.com/fogline/fogline/pkg/fogline/observability"
	"github.com/fogline/fogline/pkg/fogline/processor"
	"github.com/fogline/fogline/pkg/fogline/store"
	"github.com/fogline/fogline/pkg/fogline/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cloud:", err)
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

	cfg, err := config.LoadCloud(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	broker := transport.NewBroker(transport.BrokerConfig{QueueCapacity: cfg.QueueCapacity})
	defer broker.Close()

	metrics := observability.NewMetricsRecorder()
	proc := processor.New(st, broker, logger, metrics)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("processor stopped", slog.String("error", err.Error()))
			stop()
		}
	}()

	startDrains(ctx, &wg, broker, logger)

	router := gateway.NewRouter(gateway.Config{
		APIKey:         cfg.APIKey,
		SeenCapacity:   cfg.SeenCapacity,
		PublishTimeout: cfg.PublishTimeout.Std(),
	}, broker, logger, metrics)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			slog.String("addr", cfg.ListenAddr),
			slog.String("store_driver", cfg.StoreDriver),
		)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}

	stop()
	wg.Wait()
	logger.Info("cloud stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Cloud) (store.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.PostgresURL)
	default:
		return store.NewSQLiteStore(cfg.SQLitePath)
	}
}

// startDrains attaches a consumer to every routed topic. Alerts surface
// at warning level so an operator tailing logs sees them without any
// extra tooling; the rest are informational.
func startDrains(ctx context.Context, wg *sync.WaitGroup, broker *transport.Broker, logger *slog.Logger) {
	drain := func(topic string, handle func(msg *transport.Message)) {
		defer wg.Done()
		sub, err := broker.Subscribe(topic)
		if err != nil {
			logger.Error("subscribe failed", slog.String("topic", topic), slog.String("error", err.Error()))
			return
		}
		for {
			msg, err := sub.Receive(ctx)
			if err != nil {
				return
			}
			handle(msg)
			msg.Ack()
		}
	}

	wg.Add(4)
	go drain(transport.TopicAlerts, func(msg *transport.Message) {
		evt, err := event.Decode(msg.Data)
		if err != nil {
			return
		}
		logger.Warn("ALERT",
			slog.String("event_type", evt.EventType),
			slog.String("source_id", evt.SourceID),
			slog.Int("metric_count", evt.MetricCount),
		)
	})
	go drain(transport.TopicOps, func(msg *transport.Message) {
		evt, err := event.Decode(msg.Data)
		if err != nil {
			return
		}
		logger.Info("ops update",
			slog.String("event_type", evt.EventType),
			slog.String("source_id", evt.SourceID),
			slog.Int("metric_count", evt.MetricCount),
		)
	})
	go drain(transport.TopicTickets, func(msg *transport.Message) {
		evt, err := event.Decode(msg.Data)
		if err != nil {
			return
		}
		logger.Info("maintenance ticket",
			slog.String("event_type", evt.EventType),
			slog.String("source_id", evt.SourceID),
			slog.String("reason", evt.Extra["reason"]),
		)
	})
	go drain(transport.TopicDeadLetter, func(msg *transport.Message) {
		logger.Error("dead-lettered payload",
			slog.String("message_id", msg.ID),
			slog.String("payload", string(msg.Data)),
		)
	})
}
