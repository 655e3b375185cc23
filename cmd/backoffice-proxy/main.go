package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"backoffice-proxy/internal/client"
	"backoffice-proxy/internal/config"
	"backoffice-proxy/internal/handler"
	"backoffice-proxy/internal/metrics"
	"backoffice-proxy/internal/middleware"
	"backoffice-proxy/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// envFiles lists the dotenv files found at startup.
type envFiles []string

func main() {
	loaded, err := config.LoadEnvFiles(config.DefaultEnvFiles)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("backoffice-proxy"),
		kong.Description("Request forwarder for the back-office console: Core API proxy and payment confirmation."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			func() envFiles { return envFiles(loaded) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			client.NewUpstreamClient,
			service.NewForwardService,
			service.NewPaymentService,
			handler.NewProxyHandler,
			handler.NewPaymentHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			handler.RegisterMetrics,
			logStartup,
			startServer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// newMetrics labels inbound requests by the route families this server mounts.
func newMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.New(
		cfg.Server.Namespace,
		cfg.Payment.Path,
		config.HealthzPath,
		config.StatusPath,
		cfg.Metrics.Path,
	)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	// Upstream calls are bounded by their own deadline; the write side only
	// needs to outlast it.
	e.Server.WriteTimeout = max(cfg.Backend.Timeout(), cfg.Payment.Timeout()) + 15*time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger, config.HealthzPath, cfg.Metrics.Path))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	e.Use(middleware.RateLimit(cfg.Server.RateLimit))
	if cfg.Server.RateLimit.Enabled {
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func logStartup(cfg *config.Config, files envFiles, logger *slog.Logger) {
	if len(files) > 0 {
		logger.Info("loaded env files", "files", []string(files))
	}
	logger.Info("forwarding",
		"namespace", cfg.Server.Namespace,
		"backend", cfg.Backend.BaseURL+cfg.Backend.APIRoot,
		"payment_path", cfg.Payment.Path,
	)
	if !cfg.Payment.Configured() {
		logger.Warn("payment secret key is not set; confirmations will fail until TOSS_SECRET_KEY is provided")
	}
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
