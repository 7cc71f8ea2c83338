// Command connector runs one exchange connector, logs its events and stops after a configurable duration.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/coachpo/venuelink/internal/adapters"
	"github.com/coachpo/venuelink/internal/config"
	"github.com/coachpo/venuelink/internal/observability"
	"github.com/coachpo/venuelink/internal/schema"
	"github.com/coachpo/venuelink/internal/telemetry"
)

const (
	shutdownTimeout          = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPath, envFile := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	cfg, err := config.Load(ctx, cfgPath, envFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	meterProvider, shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("initialise telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	if err := run(ctx, cfg, logger, meterProvider); err != nil {
		logger.Error("connector stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func parseFlags() (string, string) {
	cfgPath := flag.String("config", "", "Path to an optional YAML configuration overlay")
	envFile := flag.String("env", "", "Path to a .env file (default: ./.env when present)")
	flag.Parse()
	return *cfgPath, *envFile
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func settingsFrom(cfg config.Config, logger *zap.Logger, mp metric.MeterProvider) adapters.Settings {
	return adapters.Settings{
		Group:              cfg.Group(),
		Connector:          cfg.Connector(),
		Credential:         cfg.Credential(),
		MaxCreateBatchSize: cfg.Trading.MaxCreateBatchSize,
		MaxDeleteBatchSize: cfg.Trading.MaxDeleteBatchSize,
		RateLimit:          cfg.Trading.RateLimit,
		WaitTime:           cfg.Trading.ChunkPause(),
		AmountPrecision:    cfg.Trading.AmountPrecision,
		PricePrecision:     cfg.Trading.PricePrecision,
		SubAccountID:       cfg.Trading.SubAccountID,
		ReconnectDelay:     cfg.Session.ReconnectDelay,
		HeartbeatInterval:  cfg.Session.HeartbeatInterval,
		Logger:             logger,
		MeterProvider:      mp,
	}
}

// run connects, logs events and errors until ctx ends or cfg.RunFor elapses, then stops the connector.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger, mp metric.MeterProvider) error {
	settings := settingsFrom(cfg, logger, mp)

	var (
		connector adapters.PublicConnector
		private   adapters.PrivateConnector
		err       error
	)
	if cfg.Mode == config.ModePrivate {
		private, err = adapters.NewPrivateConnector(settings)
		connector = private
	} else {
		connector, err = adapters.NewPublicConnector(settings)
	}
	if err != nil {
		return fmt.Errorf("build connector: %w", err)
	}
	logger = logger.With(zap.String("connector_id", connector.ConnectorID()), zap.String("symbol", connector.Symbol()))

	var deadline <-chan time.Time
	if cfg.RunFor > 0 {
		timer := time.NewTimer(cfg.RunFor)
		defer timer.Stop()
		deadline = timer.C
	}

	if err := connector.Connect(ctx, func(events []schema.Event) { logEvents(logger, events) }); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	logger.Info("connector started", zap.String("mode", string(cfg.Mode)), zap.Duration("run_for", cfg.RunFor))

	if private != nil {
		reportOpenOrders(ctx, logger, private)
	}

	for {
		select {
		case err := <-connector.Errors():
			logger.Warn("connector error", zap.Error(err))
		case <-ctx.Done():
			// The session closes itself once its context ends.
			logger.Info("connector interrupted")
			return nil
		case <-deadline:
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := connector.Stop(stopCtx); err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			logger.Info("connector stopped")
			return nil
		}
	}
}

func reportOpenOrders(ctx context.Context, logger *zap.Logger, connector adapters.PrivateConnector) {
	orders, err := connector.GetCurrentActiveOrders(ctx, schema.OpenOrdersRequest{Symbol: connector.Symbol()})
	if err != nil {
		logger.Warn("list open orders", zap.Error(err))
		return
	}
	logger.Info("open orders", zap.Int("count", len(orders)))
}

func logEvents(logger *zap.Logger, events []schema.Event) {
	for _, event := range events {
		header := event.EventHeader()
		logger.Info("event",
			zap.String("kind", string(header.Event)),
			zap.String("symbol", header.Symbol),
			zap.Int64("timestamp", header.Timestamp),
			zap.Any("payload", event))
	}
}
