package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/core/engine"
	"github.com/llmgate/llmgate/internal/core/store"
	errwrap "github.com/llmgate/llmgate/internal/errors"
	"github.com/llmgate/llmgate/internal/history"
	"github.com/llmgate/llmgate/internal/metrics"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/server"
	"github.com/llmgate/llmgate/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// storeHealthChecker pings the snapshot database.
type storeHealthChecker struct {
	db *store.Store
}

func (s storeHealthChecker) CheckHealth(ctx context.Context) error {
	return s.db.DB.PingContext(ctx)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the completion gateway",
	Long: `Start the HTTP completion gateway with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload config; rate limits, agent chains and providers are
    swapped in place (concurrency.max_concurrent requires a restart)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		cfg, err := loadConfig()
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "config load failed")
		}

		observability.InitServerLogger(identity.BinaryName, cfg.Logging, namespace)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(namespace, cfg.Metrics); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}
		metrics.SetServerStartTime(time.Now().Unix())

		db, err := openStore(ctx, cfg.Store)
		if err != nil {
			// Snapshots and throttle history are optional; the gateway still serves.
			logger.Warn("Store unavailable, snapshots and throttle history disabled", zap.Error(err))
			db = nil
		}

		var events engine.ThrottleEventSink
		if db != nil {
			events = db
		}
		stack, err := buildGatewayStack(cfg, logger, events)
		if err != nil {
			return errwrap.WrapInternal(ctx, err, "gateway initialization failed")
		}

		conversations, err := history.Open(ctx, cfg.History)
		if err != nil {
			logger.Warn("Conversation history unavailable", zap.Error(err))
			conversations = nil
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("max_concurrent", stack.Semaphore.MaxConcurrent()),
			zap.Strings("agents", stack.Orchestrator.Agents()))

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		if db != nil {
			hm.RegisterChecker("store", storeHealthChecker{db: db})
		}
		hm.RegisterReadinessChecker("capacity", handlers.CapacityChecker{
			Semaphore: stack.Semaphore,
			Timeout:   cfg.Health.ReadyTimeout,
		})
		handlers.SetAppIdentity(identity)

		srv := server.New(cfg.Server.Host, cfg.Server.Port,
			server.WithTimeouts(cfg.Server),
			server.WithMetricsPort(cfg.Metrics.Port),
			server.WithGateway(&handlers.GatewayHandler{
				Orchestrator: stack.Orchestrator,
				Semaphore:    stack.Semaphore,
				History:      conversations,
			}))

		go stack.Throttler.Run(ctx)
		if db != nil {
			go runSnapshots(ctx, stack.Orchestrator, db, cfg.Snapshots.Interval, cfg.Snapshots.Retention, logger)
		}

		// Shutdown handlers run LIFO.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			driver.DisableTracing()
			if conversations != nil {
				if err := conversations.Close(); err != nil {
					logger.Warn("Failed to close conversation history", zap.Error(err))
				}
			}
			if db != nil {
				if err := db.Close(); err != nil {
					logger.Warn("Failed to close store", zap.Error(err))
				}
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			cancel()
			shutdownCtx, stop := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer stop()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")
			return reloadConfig(stack.Reloader)
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		select {
		case err := <-errChan:
			return errwrap.WrapInternal(ctx, err, "server error")
		case <-ctx.Done():
			return nil
		}
	},
}

// reloadConfig rereads the config file and applies it to every registered
// component. A file that fails to parse or validate leaves the running
// config in place.
func reloadConfig(reloader *config.Reloader) error {
	logger := observability.ServerLogger
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logger.Error("Failed to reload config file",
				zap.String("file", viper.ConfigFileUsed()),
				zap.Error(err))
			return errwrap.WrapConfigInvalid(context.Background(), err, "config reload failed")
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("Reloaded config is invalid, keeping current config", zap.Error(err))
		return errwrap.WrapConfigInvalid(context.Background(), err, "config reload failed")
	}
	if err := reloader.Reload(cfg); err != nil {
		logger.Error("Failed to apply reloaded config", zap.Error(err))
		return errwrap.WrapConfigInvalid(context.Background(), err, "config reload failed")
	}

	logger.Info("Configuration reloaded successfully", zap.String("file", viper.ConfigFileUsed()))
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
