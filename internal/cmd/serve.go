package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gifmotion/gifmotion/internal/config"
	errwrap "github.com/gifmotion/gifmotion/internal/errors"
	"github.com/gifmotion/gifmotion/internal/metrics"
	"github.com/gifmotion/gifmotion/internal/observability"
	"github.com/gifmotion/gifmotion/internal/ratelimit"
	"github.com/gifmotion/gifmotion/internal/server"
	"github.com/gifmotion/gifmotion/internal/server/handlers"
	servermw "github.com/gifmotion/gifmotion/internal/server/middleware"
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

// runwayHealthChecker fails while no API key is configured.
type runwayHealthChecker struct {
	apiKey string
}

func (r runwayHealthChecker) CheckHealth(ctx context.Context) error {
	if strings.TrimSpace(r.apiKey) == "" {
		return errwrap.NewConfigInvalidError("runway api key missing")
	}
	return nil
}

// limiterHealthChecker fails until the gate has a limiter.
type limiterHealthChecker struct {
	limiter *ratelimit.Limiter
}

func (l limiterHealthChecker) CheckHealth(ctx context.Context) error {
	if l.limiter == nil {
		return errwrap.NewInternalError("rate limiter not initialized")
	}
	metrics.SetTrackedClients(l.limiter.Len())
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

Routes:
  POST /api/generate   image + promptText form, gated by referer and rate limit
  GET  /health[/live|/ready|/startup], /version, /metrics

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown (in-flight generations finish)
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (validated; server settings apply on restart)`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "invalid configuration")
	}

	logLevel := cfg.Logging.Level
	if verbose {
		logLevel = "debug"
	}
	observability.InitServerLogger(observability.LoggerOptions{
		Service:     config.AppName,
		Level:       logLevel,
		Format:      cfg.Logging.Format,
		Environment: cfg.Logging.Environment,
		Namespace:   config.AppName,
	})
	logger := observability.ServerLogger

	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
		metrics.SetServerStartTime(time.Now().Unix())
	}

	if cfg.Tracing.Enabled {
		shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
			ServiceName:    config.AppName,
			ServiceVersion: versionInfo.Version,
			Endpoint:       cfg.Tracing.Endpoint,
			Insecure:       cfg.Tracing.Insecure,
		})
		if err != nil {
			logger.Warn("Tracing disabled: exporter setup failed", zap.Error(err))
		} else {
			signals.OnShutdown(shutdownTracing)
		}
	}

	limiter, err := newLimiter(cfg)
	if err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "rate limiter configuration invalid")
	}
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go limiter.RunSweeper(sweepCtx, cfg.Gate.SweepInterval, func(removed, remaining int) {
		metrics.SetTrackedClients(remaining)
		if removed > 0 {
			logger.Debug("Swept expired rate limit windows",
				zap.Int("removed", removed),
				zap.Int("remaining", remaining))
		}
	})

	logger.Info("Initializing server",
		zap.String("service", config.AppName),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("runway_base_url", cfg.Runway.BaseURL),
		zap.String("app_url", cfg.Gate.AppURL),
		zap.Int("rate_limit", cfg.Gate.RateLimit),
		zap.Duration("rate_window", cfg.Gate.RateWindow),
		zap.Duration("poll_budget", cfg.Generation.Policy().Budget()))

	hm := handlers.NewHealthManager(versionInfo.Version)
	hm.RegisterChecker("runway", runwayHealthChecker{apiKey: cfg.Runway.APIKey})
	hm.RegisterChecker("rate_limiter", limiterHealthChecker{limiter: limiter})
	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	}

	handlers.SetAppName(config.AppName)
	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithGenerateHandler(handlers.NewGenerateHandler(newGenerator(cfg))),
		server.WithGate(servermw.GateConfig{
			AppURL:  cfg.Gate.AppURL,
			Limit:   cfg.Gate.RateLimit,
			Limiter: limiter,
		}),
		server.WithHealthManager(hm),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithAdminToken(os.Getenv(config.EnvPrefix+"ADMIN_TOKEN")),
	)

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	// Shutdown handlers run LIFO: the HTTP server stops first, the logger flushes last.
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			// Sync errors are often benign (stdout/stderr already closed)
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		stopSweeper()
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}
		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: attempting config reload")

		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
		}

		reloaded, err := loadConfig()
		if err != nil {
			logger.Error("Reloaded configuration is invalid; keeping the running settings", zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}
		for _, warning := range reloaded.Warnings() {
			logger.Warn(warning)
		}
		logger.Info("Configuration reloaded; restart to apply server, gate and provider settings",
			zap.String("file", viper.ConfigFileUsed()))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(ctx); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	if err := <-errChan; err != nil {
		return errwrap.WrapInternal(ctx, err, "server error")
	}
	return nil
}
