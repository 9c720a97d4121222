package main

import (
	"context"
	"errors"
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"github-relay-go/internal/allowlist"
	"github-relay-go/internal/client"
	"github-relay-go/internal/config"
	"github-relay-go/internal/handler"
	"github-relay-go/internal/metrics"
	"github-relay-go/internal/middleware"
	"github-relay-go/internal/proxyconf"
	"github-relay-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("github-relay"),
		kong.Description("Streaming download relay for GitHub release assets."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newProxyDescriptor,
			newAllowlist,
			newEcho,
			client.NewUpstreamClient,
			service.NewTargetValidator,
			service.NewRelayService,
			handler.NewDownloadHandler,
			handler.NewHealthHandler,
			newIndexHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			registerMetrics,
			warnConfigPermissions,
			logStartup,
			watchAllowlist,
			closeUpstream,
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

// newProxyDescriptor resolves the forward proxy once; the environment wins over
// the config file.
func newProxyDescriptor(cfg *config.Config) proxyconf.Descriptor {
	return proxyconf.Resolve(proxyconf.Descriptor{
		HTTPProxy:  cfg.Upstream.HTTPProxy,
		HTTPSProxy: cfg.Upstream.HTTPSProxy,
		NoProxy:    cfg.Upstream.NoProxy,
	})
}

// newAllowlist seeds the allowlist from the config, or from allowlist.file when set.
func newAllowlist(cfg *config.Config) (*allowlist.List, error) {
	if cfg.Allowlist.File == "" {
		return allowlist.New(cfg.Allowlist.Domains), nil
	}
	domains, err := allowlist.LoadFile(cfg.Allowlist.File)
	if err != nil {
		return nil, err
	}
	return allowlist.New(domains), nil
}

func newIndexHandler(cfg *config.Config, via proxyconf.Descriptor, allow *allowlist.List, v handler.Version) *handler.IndexHandler {
	return handler.NewIndexHandler(via, allow, cfg.Allowlist.AllowlistEnabled(), v)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout stays 0: a large asset may stream for minutes. Transfers are
	// bounded by the upstream stall timeout instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: middleware.NewRequestID}))
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func registerMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func logStartup(cfg *config.Config, via proxyconf.Descriptor, allow *allowlist.List, logger *slog.Logger) {
	redacted := via.Redacted()
	logger.Info("relay configured",
		"config", cfg.FilePath(),
		"proxy_enabled", via.Enabled(),
		"http_proxy", redacted.HTTPProxy,
		"https_proxy", redacted.HTTPSProxy,
		"no_proxy", redacted.NoProxy,
		"allowlist_enabled", cfg.Allowlist.AllowlistEnabled(),
		"allowed_domains", allow.Domains(),
		"probe_before_fetch", cfg.Relay.ProbeBeforeFetch,
	)
}

// watchAllowlist reloads allowlist.file on change for the lifetime of the app.
func watchAllowlist(lc fx.Lifecycle, cfg *config.Config, allow *allowlist.List, m *metrics.Metrics, logger *slog.Logger) {
	if cfg.Allowlist.File == "" {
		return
	}

	w := allowlist.NewWatcher(cfg.Allowlist.File, allow, logger)
	w.OnReload = m.ObserveAllowlistReload

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)
				if err := w.Run(ctx); err != nil {
					logger.Error("allowlist watcher stopped", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func closeUpstream(lc fx.Lifecycle, c *client.UpstreamClient) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			c.CloseIdleConnections()
			return nil
		},
	})
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
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
