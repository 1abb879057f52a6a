package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"smsrelay/internal/audit"
	"smsrelay/internal/config"
	"smsrelay/internal/constants"
	"smsrelay/internal/database"
	"smsrelay/internal/dispatch"
	"smsrelay/internal/models"
	"smsrelay/internal/notify"
	"smsrelay/internal/pebblestore"
	"smsrelay/internal/queue"
	"smsrelay/internal/retry"
	"smsrelay/internal/service"
	"smsrelay/internal/settings"
	"smsrelay/internal/tracing"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes phone numbers and message previews)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

// storage is what both embedded backends provide.
type storage interface {
	queue.Store
	audit.Store
	Close() error
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("smsrelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting smsrelay")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(resolveLogLevel(logger, cfg.LogLevel, *verbose))
	if *verbose {
		logger.Info("Verbose logging enabled - phone numbers and message previews will be logged")
	}

	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = Version
	}
	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	encryptor, err := database.NewEncryptor(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// Open the store with exponential backoff retry
	var store storage
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultDatabaseOpenBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultDatabaseOpenMaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var openErr error
		store, openErr = openStore(ctx, cfg, encryptor)
		if openErr != nil {
			logger.Warnf("Failed to open %s store: %v", cfg.Queue.Backend, openErr)
		}
		return openErr
	})
	if err != nil {
		return fmt.Errorf("failed to open store after retries: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnf("Failed to close store: %v", err)
		}
	}()
	logger.WithField("backend", cfg.Queue.Backend).Info("Work queue store opened")

	hub := notify.NewHub(logger)

	trail := audit.New(audit.Options{
		Capacity: cfg.Audit.Capacity,
		Store:    store,
		Logger:   logger,
	})
	if err := trail.Load(ctx); err != nil {
		logger.Warnf("Failed to load audit log: %v", err)
	}
	trail.AddSink(hub)
	defer trail.Close()

	provider, err := settings.NewFileProvider(cfg.Settings.Path)
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}
	settingsWatcher := settings.NewWatcher(provider, logger, trail,
		time.Duration(cfg.Settings.PollIntervalSec)*time.Second)

	var monitor *service.NetworkMonitor
	if cfg.Network.Enabled {
		monitor = service.NewNetworkMonitor(cfg.Network, nil, logger)
	}

	queueOpts := queue.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     retry.NewBackoff(retry.FromRetryConfig(cfg.Queue.Retry, cfg.Queue.MaxAttempts)),
		Notifier:    notify.NewNotifier(logger, hub, *verbose),
		Audit:       trail,
		Logger:      logger,
	}
	if monitor != nil {
		queueOpts.Connectivity = monitor
	}
	workQueue := queue.New(store, queueOpts)

	engine, err := service.NewEngine(service.EngineDeps{
		Config:     cfg.Queue,
		Queue:      workQueue,
		Dispatcher: dispatch.NewDispatcher(cfg.Delivery, nil, logger),
		Settings:   settingsWatcher,
		Audit:      trail,
		Monitor:    monitor,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if err := engine.Start(service.WithVerbose(ctx, *verbose)); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	configWatcher := config.NewConfigWatcher(*configPath, cfg, logger)
	configWatcher.OnConfigChange(func(updated *models.Config) {
		logger.SetLevel(resolveLogLevel(logger, updated.LogLevel, *verbose))
	})
	go configWatcher.Start(ctx)

	var server *Server
	serverErrCh := make(chan error, 1)
	if cfg.Server.Enabled {
		server = NewServer(cfg.Server, engine, trail, settingsWatcher, hub, logger)
		go func() {
			if err := server.Start(ctx); err != nil {
				serverErrCh <- fmt.Errorf("server error: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-serverErrCh:
		logger.Error(runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Failed to shutdown server gracefully: %v", err)
		}
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Warnf("Engine did not stop cleanly: %v", err)
	}

	logger.Info("Shutdown completed")
	return runErr
}

// openStore opens the configured queue backend. Both backends also hold the
// durable audit log.
func openStore(ctx context.Context, cfg *models.Config, encryptor *database.Encryptor) (storage, error) {
	switch cfg.Queue.Backend {
	case "pebble":
		s, err := pebblestore.Open(cfg.Queue.PebbleDir, encryptor)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "", "sqlite":
		db, err := database.New(ctx, cfg.Database.Path, encryptor)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// resolveLogLevel maps the configured level onto logrus. Without -verbose the
// level never goes below info, so phone numbers stay out of debug output.
func resolveLogLevel(logger *logrus.Logger, configured string, verbose bool) logrus.Level {
	if verbose {
		return logrus.DebugLevel
	}
	if configured == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		return logrus.InfoLevel
	}
	if level > logrus.InfoLevel {
		level = logrus.InfoLevel
	}
	return level
}
