package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/capture"
	"github.com/alfredjeanlab/atlasgrid/internal/config"
	"github.com/alfredjeanlab/atlasgrid/internal/detect"
	"github.com/alfredjeanlab/atlasgrid/internal/events"
	"github.com/alfredjeanlab/atlasgrid/internal/metrics"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
	"github.com/alfredjeanlab/atlasgrid/internal/monitor"
	"github.com/alfredjeanlab/atlasgrid/internal/reconcile"
	"github.com/alfredjeanlab/atlasgrid/internal/retry"
	"github.com/alfredjeanlab/atlasgrid/internal/server"
	"github.com/alfredjeanlab/atlasgrid/internal/staleness"
	"github.com/alfredjeanlab/atlasgrid/internal/store"
	"github.com/alfredjeanlab/atlasgrid/internal/store/memory"
	"github.com/alfredjeanlab/atlasgrid/internal/store/postgres"
	ledgersync "github.com/alfredjeanlab/atlasgrid/internal/sync"
	"github.com/alfredjeanlab/atlasgrid/internal/zone"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the camera pipeline and the occupancy API",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.StreamURL == "" || cfg.DetectorURL == "" {
			return model.NewFailure(model.ConfigurationError, "load config",
				errors.New("ATLASGRID_STREAM_URL and ATLASGRID_DETECTOR_URL are required"))
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		m := metrics.New()

		// Load zones.
		reg, err := zone.LoadFile(cfg.ZonesFile)
		if err != nil {
			return err
		}
		mode, err := zone.ParseMode(cfg.MatchMode)
		if err != nil {
			return err
		}
		matcher, err := zone.NewMatcher(reg, mode, cfg.MatchThreshold)
		if err != nil {
			return err
		}
		change, err := reconcile.ParseClassChange(cfg.ClassChange)
		if err != nil {
			return err
		}
		logger.Info("zones loaded", "file", cfg.ZonesFile, "zones", reg.Len(), "match", mode)

		// Open the ledger.
		ledger, err := openLedger(cfg)
		if err != nil {
			return err
		}
		logger.Info("ledger opened", "backend", cfg.Ledger)

		// Event sinks. The SSE stream is always on; brokers are optional.
		publishers := events.FanOut{}
		closeAll := func() {
			if err := publishers.Close(); err != nil {
				logger.Error("error closing publishers", "err", err)
			}
			if err := ledger.Close(); err != nil {
				logger.Error("error closing ledger", "err", err)
			}
		}
		if err := addBrokers(cfg, logger, &publishers); err != nil {
			closeAll()
			return err
		}

		// Liveness. The callbacks reach the engine and health reporter
		// declared below; neither fires before the reaper starts.
		var (
			engine *reconcile.Engine
			health *server.Health
		)
		var tracker *staleness.Tracker
		tracker = staleness.New(reg.IDs(), staleness.Config{
			StaleAfter: cfg.StaleAfter,
			OnStale: func(spaceID string, lastSeen time.Time) {
				logger.Warn("space stale", "space", spaceID, "last_seen", lastSeen)
				_ = publishers.Publish(context.Background(), events.TopicSpaceStale,
					events.SpaceStale{RunID: engine.RunID(), SpaceID: spaceID, LastSeen: lastSeen})
				m.SetStale(tracker.StaleCount())
				health.Refresh()
			},
			OnFresh: func(spaceID string, at time.Time) {
				logger.Info("space fresh", "space", spaceID)
				_ = publishers.Publish(context.Background(), events.TopicSpaceFresh,
					events.SpaceFresh{RunID: engine.RunID(), SpaceID: spaceID, At: at})
				m.SetStale(tracker.StaleCount())
				health.Refresh()
			},
		})

		// Sync scheduler, if any destinations are configured.
		scheduler := newScheduler(cfg, ledger, logger, m)

		// API server. Its SSE publisher joins the fan-out before the engine
		// starts publishing.
		opts := server.Options{Liveness: tracker, Metrics: m, Logger: logger}
		if scheduler != nil {
			opts.Sync = scheduler
		}

		engine = reconcile.New(reg, matcher, ledger, reconcile.Options{
			Classifier:      reconcile.NewClassifier(cfg.MinConfidence, cfg.VehicleLabels),
			Publisher:       &publishers,
			Tracker:         tracker,
			Metrics:         m,
			Logger:          logger,
			DebounceSamples: cfg.DebounceSamples,
			ClassChange:     change,
			Retry:           persistRetry(cfg),
		})
		apiServer := server.New(engine, ledger, opts)
		publishers = append(publishers, apiServer.Events())

		// Adopt the state left by the previous run.
		restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 30*time.Second)
		err = engine.Restore(restoreCtx)
		cancelRestore()
		if err != nil {
			closeAll()
			return err
		}

		health = server.NewHealth(tracker)
		tracker.StartReaper()

		// Start gRPC listener.
		grpcServer := server.NewGRPCServer(health, cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			tracker.Stop()
			closeAll()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		// Start HTTP server.
		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: apiServer.NewHTTPHandler(cfg.AuthToken),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		if scheduler != nil {
			scheduler.Start()
			logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
		}

		// Start the camera pipeline.
		source := capture.NewMJPEGSource(cfg.StreamURL, capture.MJPEGOptions{
			ReconnectDelay: cfg.ReconnectDelay,
			Logger:         logger,
		})
		detector := detect.NewHTTPDetector(cfg.DetectorURL, detect.HTTPOptions{
			Timeout: cfg.DetectorTimeout,
			Token:   cfg.DetectorToken,
			Metrics: m,
		})
		mon := monitor.New(source, detector, engine, monitor.Config{
			SampleEvery: cfg.SampleEvery,
			QueueSize:   cfg.QueueSize,
			Metrics:     m,
			Logger:      logger,
		})
		monCtx, stopMonitor := context.WithCancel(context.Background())
		monDone := make(chan struct{})
		go func() {
			defer close(monDone)
			if err := mon.Run(monCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("monitor stopped", "err", err)
			}
		}()

		logger.Info("atlasgrid started",
			"run_id", engine.RunID(),
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"stream", cfg.StreamURL,
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown. The monitor lets an in-flight ledger write finish.
		stopMonitor()
		<-monDone
		logger.Info("monitor stopped")

		tracker.Stop()

		if scheduler != nil {
			scheduler.Stop()
			syncCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := scheduler.SyncOnce(syncCtx); err != nil {
				logger.Error("final sync failed", "err", err)
			}
			cancel()
			logger.Info("sync scheduler stopped")
		}

		health.Shutdown()
		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		closeAll()
		logger.Info("shutdown complete")
		return nil
	},
}

// persistRetry bounds ledger commit attempts by ATLASGRID_PERSIST_ATTEMPTS.
func persistRetry(cfg *config.Config) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.PersistAttempts
	return rc
}

// openLedger connects to the configured ledger backend.
func openLedger(cfg *config.Config) (store.Store, error) {
	if cfg.Ledger == config.LedgerMemory {
		return memory.New(), nil
	}
	s, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, model.NewFailure(model.PersistenceFailure, "open ledger", err)
	}
	return s, nil
}

// addBrokers appends a publisher for each configured message broker.
func addBrokers(cfg *config.Config, logger *slog.Logger, pubs *events.FanOut) error {
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		*pubs = append(*pubs, pub)
		logger.Info("events enabled", "sink", "nats", "url", cfg.NATSURL)
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		*pubs = append(*pubs, pub)
		logger.Info("events enabled", "sink", "kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.MQTTBroker != "" {
		pub, err := events.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTPrefix, logger)
		if err != nil {
			return err
		}
		*pubs = append(*pubs, pub)
		logger.Info("events enabled", "sink", "mqtt", "broker", cfg.MQTTBroker, "prefix", cfg.MQTTPrefix)
	}
	if len(*pubs) == 0 {
		logger.Info("broker events disabled (no NATS, Kafka or MQTT configured)")
	}
	return nil
}

// newScheduler builds the ledger export scheduler, or returns nil when sync
// is disabled or has no destinations.
func newScheduler(cfg *config.Config, ledger store.Store, logger *slog.Logger, m *metrics.Metrics) *ledgersync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []ledgersync.Destination
	if cfg.SyncS3Bucket != "" {
		s3Dest, err := ledgersync.NewS3Destination(
			context.Background(),
			cfg.SyncS3Bucket,
			cfg.SyncS3Key,
			cfg.SyncS3Region,
			cfg.SyncS3Endpoint,
		)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}
	if cfg.SyncGitRepo != "" {
		dests = append(dests, ledgersync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}
	if len(dests) == 0 {
		return nil
	}
	return ledgersync.NewScheduler(ledger, dests, cfg.SyncInterval, logger, m)
}
