package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/constants"
	"chatsync/internal/database"
	"chatsync/internal/retry"
	"chatsync/internal/service"
	"chatsync/internal/session"
	"chatsync/internal/tracing"
	"chatsync/pkg/circuitbreaker"
	"chatsync/pkg/history"
	"chatsync/pkg/media"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	convIDs    = flag.String("conversations", "", "Comma-separated conversation ids to open on startup")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("chatsync %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
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
	}).Info("Starting chatsync")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		ctx = service.WithVerboseLogging(ctx)
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize the local database with retry; first launch after an
	// unclean shutdown can hit a lingering lock.
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: constants.DefaultDatabaseBackoffMs * time.Millisecond,
		MaxDelay:     constants.DefaultDatabaseMaxBackoffMs * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	sessionProvider := session.NewStaticProvider(cfg.UserID, cfg.AuthToken)

	breaker := circuitbreaker.New(
		"history-api",
		constants.DefaultBreakerMaxFailures,
		constants.DefaultBreakerResetSec*time.Second,
		logger,
	)
	historyClient := history.NewBreakerClient(
		history.NewClient(
			cfg.API.BaseURL,
			time.Duration(cfg.API.TimeoutSec)*time.Second,
			sessionProvider,
		),
		breaker,
	)

	var uploader media.Uploader
	if cfg.Media.UploadURL != "" {
		uploader = media.NewUploader(
			cfg.Media.UploadURL,
			sessionProvider,
			cfg.Media.MaxAttachmentMB,
			time.Duration(cfg.Media.TimeoutSec)*time.Second,
			time.Duration(cfg.Send.TimeoutPerMBSec)*time.Second,
		)
	}

	engine := service.NewEngine(cfg, service.EngineDeps{
		Session:  sessionProvider,
		Store:    db,
		History:  historyClient,
		Uploader: uploader,
		Logger:   logger,
	})

	for _, convID := range splitConversationIDs(*convIDs) {
		if _, err := engine.OpenConversation(ctx, convID); err != nil {
			logger.WithError(err).WithField("conversation_id", convID).
				Warn("Failed to open conversation at startup")
		}
	}

	var wg sync.WaitGroup

	if cfg.Server.Enabled {
		srv := newDebugServer(cfg.Server.Port, engine, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.serve(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil {
			logger.WithError(err).Error("Engine stopped with error")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	wg.Wait()
	logger.Info("Shutdown complete")
	return nil
}

func splitConversationIDs(raw string) []string {
	var out []string
	for _, id := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
