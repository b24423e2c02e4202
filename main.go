package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"htools/config"
	"htools/generate"
	"htools/output"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	appName    = "htools"
	appVersion = "1.0.0"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file (.json, .yaml)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	// Handle version flag
	if *version {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	// Validate config path
	if *configPath == "" {
		log.Fatal("Error: -config flag is required")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup logging
	logger := setupLogging(cfg, *debug)
	runID := generate.NewRunID()
	logger.Info("Starting htools",
		"version", appVersion,
		"run", runID,
		"config", *configPath,
		"headers", len(cfg.Headers),
		"upload", cfg.Upload.Enabled)

	if err := run(cfg, runID, logger); err != nil {
		logger.Error("Header generation failed", "error", err)
		os.Exit(1)
	}
}

// run wires the event publisher, destination and runner for one generation pass
func run(cfg *config.Config, runID string, logger *slog.Logger) error {
	// Create context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Optional event publication
	var publisher *output.EventPublisher
	if cfg.NATS.URL != "" {
		nc, err := output.NewNATSConnection(cfg.NATS.URL, cfg.App.Name, cfg.NATS.MaxReconnects, logger)
		if err != nil {
			// Events are informational; generation continues without them
			logger.Warn("NATS unavailable, events disabled", "error", err)
		} else {
			defer nc.Close()
			publisher = output.NewEventPublisher(&output.EventPublisherConfig{
				Conn:     nc,
				Subject:  cfg.NATS.Subject,
				RunID:    runID,
				Instance: cfg.App.Name,
				Logger:   logger,
			})
		}
	}

	dest := output.NewDestination(&output.DestinationConfig{
		Publisher: publisher,
		Logger:    logger,
	})

	runner := generate.NewRunner(&generate.RunnerConfig{
		Config:      cfg,
		Destination: dest,
		Publisher:   publisher,
		RunID:       runID,
		Logger:      logger,
	})

	result, err := runner.Run(ctx, appVersion)
	if err != nil {
		return err
	}

	logger.Info("htools finished", "written", len(result.Written))
	return nil
}

// setupLogging configures logging with optional file rotation
func setupLogging(cfg *config.Config, debug bool) *slog.Logger {
	// Determine log level
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	} else {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler

	// If log base path is configured, write to rotating log file
	if cfg.Logging.BasePath != "" {
		// Create log directory if it doesn't exist
		if err := os.MkdirAll(cfg.Logging.BasePath, 0755); err != nil {
			log.Printf("Warning: failed to create log directory: %v", err)
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			logPath := filepath.Join(cfg.Logging.BasePath, "htools.log")
			writer := &lumberjack.Logger{
				Filename:   logPath,
				MaxSize:    cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				Compress:   cfg.Logging.Compress,
			}
			handler = slog.NewJSONHandler(writer, opts)
		}
	} else {
		// Log to stderr; stdout may carry generated headers
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
