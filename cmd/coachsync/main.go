package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"coachsync-server/pkg/analysis"
	"coachsync-server/pkg/coach"
	"coachsync-server/pkg/config"
	http_server "coachsync-server/pkg/http"
	"coachsync-server/pkg/messaging"
	"coachsync-server/pkg/metrics"
	"coachsync-server/pkg/store"
	"coachsync-server/pkg/version"
)

var logger = logrus.New()

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.WithField("version", version.Version).Info("Coachsync server starting")

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	configureLogging(cfg.Logging)
	metrics.Init(logger)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	sessionStore, err := newStore(cfg.Store)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize session store")
	}
	defer sessionStore.Close()

	analyzer, err := newAnalyzer(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize analysis client")
	}

	coordinator := coach.NewCoordinator(logger, sessionStore, analyzer, coach.CoordinatorConfig{
		QuietWindow:     cfg.Trigger.QuietWindow,
		AnalysisTimeout: cfg.Trigger.AnalysisTimeout,
	})
	defer coordinator.Close()

	hub := http_server.NewSnapshotHub(logger)
	go hub.Run(rootCtx)
	coordinator.AddSubscriber(hub)

	if cfg.Messaging.Enabled {
		publisher, err := messaging.NewAMQPPublisher(logger, cfg.Messaging)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize AMQP publisher")
		}
		coordinator.AddSubscriber(publisher)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = publisher.Close(ctx)
		}()
	}

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		coordinator.AddSubscriber(&coach.SnapshotLogger{Logger: logger})
	}

	server := http_server.NewServer(logger, &cfg.HTTP, coordinator, hub)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("HTTP server failed")
		}
	}

	rootCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}

	logger.Info("Coachsync server stopped")
}

func configureLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.OutputFile != "" {
		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.WithError(err).Warn("Failed to open log file, logging to stdout")
			return
		}
		logger.SetOutput(file)
	}
}

func newStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.Backend == "redis" {
		return store.NewRedisStore(store.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			Database:     cfg.Redis.Database,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			TTL:          cfg.Redis.TTL,
		}, logger)
	}
	return store.NewMemoryStore(logger), nil
}

func newAnalyzer(cfg *config.Config) (coach.Analyzer, error) {
	if cfg.Analysis.Provider == "mock" {
		logger.Warn("Using mock analyzer; coaching tips are rule-based")
		return analysis.NewMockAnalyzer(), nil
	}
	return analysis.NewChatClient(logger, analysis.Config{
		APIKey:      cfg.Analysis.APIKey,
		APIURL:      cfg.Analysis.APIURL,
		Model:       cfg.Analysis.Model,
		Temperature: cfg.Analysis.Temperature,
		MaxTokens:   cfg.Analysis.MaxTokens,
		Timeout:     cfg.Trigger.AnalysisTimeout,
	})
}
