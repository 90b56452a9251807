// Remindd places automated medication-reminder voice calls, classifies the
// patient's spoken answer, and falls back to SMS when a call never reaches
// a live person.
//
// The daemon serves the telephony provider's webhooks and a small operator
// API. Configuration is loaded from a YAML file plus environment variables;
// see internal/config for details.
//
// Usage:
//
//	# Start with the default config search path
//	remindd
//
//	# Explicit config file
//	remindd -config /etc/remindd/config.yaml
//
//	# Configure via environment
//	SERVER_PORT=9090 TWILIO_FROM_NUMBER=+15550001111 remindd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/calyxhealth/remindd/internal/callflow"
	"github.com/calyxhealth/remindd/internal/config"
	"github.com/calyxhealth/remindd/internal/fallback"
	"github.com/calyxhealth/remindd/internal/httpapi"
	"github.com/calyxhealth/remindd/internal/logging"
	"github.com/calyxhealth/remindd/internal/prompts"
	"github.com/calyxhealth/remindd/internal/store"
	"github.com/calyxhealth/remindd/internal/telemetry"
	"github.com/calyxhealth/remindd/internal/twilio"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down gracefully", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("remindd: %v", err)
	}

	log.Println("shutdown complete")
}

func printVersion() {
	fmt.Printf("remindd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Telemetry, then logger (so the OTEL log bridge can attach)
//  3. Call session store (memory or NATS)
//  4. Twilio client and prompt catalog
//  5. Call flow controller and fallback dispatcher
//  6. HTTP server; graceful shutdown on cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting remindd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Provider),
		zap.Bool("telemetry", tel.IsEnabled()))

	st, err := store.New(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("initializing call session store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}()

	gateway, err := twilio.NewClient(cfg.Twilio)
	if err != nil {
		return fmt.Errorf("initializing twilio client: %w", err)
	}

	catalog, err := prompts.NewCatalog(cfg.Prompts.Path, logger)
	if err != nil {
		return fmt.Errorf("loading prompt catalog: %w", err)
	}
	if cfg.Prompts.Path != "" {
		go func() {
			if err := catalog.Watch(ctx); err != nil {
				logger.Warn("prompt catalog watch stopped", zap.Error(err))
			}
		}()
	}

	dispatcher := fallback.NewDispatcher(gateway, st, catalog, logger)

	controller, err := callflow.NewController(
		callflow.Config{
			Call:          cfg.Call,
			PublicBaseURL: cfg.Server.PublicBaseURL,
		},
		gateway, st, catalog, dispatcher, logger,
	)
	if err != nil {
		return fmt.Errorf("initializing call flow controller: %w", err)
	}

	srv, err := httpapi.NewServer(controller, st, logger, &httpapi.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		RateLimit: rate.Limit(cfg.Server.RateLimit),
		RateBurst: cfg.Server.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// initLogger builds the daemon logger, bridged to OTEL when telemetry
// carries a log provider.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*zap.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	logCfg.Format = cfg.Observability.LogFormat

	var level zapcore.Level
	if err := level.Set(cfg.Observability.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Observability.LogLevel, err)
	}
	logCfg.Level = level

	if tel.LoggerProvider() != nil {
		logCfg.Output.OTEL = true
	}

	return logging.New(logCfg, tel.LoggerProvider())
}
