package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tuncerburak97/gozcu/internal/config"
	"github.com/tuncerburak97/gozcu/internal/dispatch"
	"github.com/tuncerburak97/gozcu/internal/logger"
	"github.com/tuncerburak97/gozcu/internal/metrics"
	"github.com/tuncerburak97/gozcu/internal/middleware"
	"github.com/tuncerburak97/gozcu/internal/proxy"
	"github.com/tuncerburak97/gozcu/internal/repository"
	"github.com/tuncerburak97/gozcu/internal/service"
	"github.com/tuncerburak97/gozcu/internal/transform"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	lg := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Logger = lg
	ctx := lg.WithContext(context.Background())

	var metricsCollector *metrics.MetricsCollector
	if cfg.Metrics.Enabled {
		metricsCollector = metrics.GetMetricsCollector(cfg.Metrics.Namespace, "gozcu_proxy")
		defer metricsCollector.Close()
	}

	var (
		repo       repository.RecordRepository
		archiveSvc *service.ArchiveService
	)
	if cfg.Archive.Enabled {
		repo, err = repository.NewRepository(ctx, &cfg.Archive)
		if err != nil {
			lg.Fatal().Err(err).Msg("Failed to initialize archive repository")
		}
		archiveSvc = service.NewArchiveService(repo, service.Options{
			Backend:       cfg.Archive.Type,
			Workers:       cfg.Archive.Workers,
			BufferSize:    cfg.Archive.BufferSize,
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		}, metricsCollector, &lg)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:             cfg.Server.ReadTimeout,
		WriteTimeout:            cfg.Server.WriteTimeout,
		IdleTimeout:             cfg.Server.IdleTimeout,
		ProxyHeader:             cfg.Server.ProxyHeader,
		EnableTrustedProxyCheck: len(cfg.Server.TrustedProxies) > 0,
		TrustedProxies:          cfg.Server.TrustedProxies,
		DisableStartupMessage:   true,

		// Recorded header maps keep the names as clients and handlers wrote them.
		DisableHeaderNormalizing: true,
	})

	ignored := append([]string(nil), cfg.Telemetry.IgnoredRoutes...)
	if cfg.Metrics.Enabled {
		app.Get(cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
		ignored = append(ignored, cfg.Metrics.Path)
	}

	var dispatcher *dispatch.Dispatcher
	if cfg.Telemetry.Enabled {
		dispatcher = newDispatcher(cfg, &lg, metricsCollector, archiveSvc)

		engine, err := transform.NewEngine(cfg.Telemetry.Scripts, &lg)
		if err != nil {
			lg.Fatal().Err(err).Msg("Failed to initialize body scripts")
		}
		mwCfg := middleware.Config{
			APIKey:        cfg.Telemetry.APIKey,
			ProjectID:     cfg.Telemetry.ProjectID,
			MaskingFields: cfg.Telemetry.MaskingFields(),
			IgnoredRoutes: ignored,
			Deliverer:     dispatcher,
			Logger:        &lg,
			Metrics:       metricsCollector,
		}
		if engine.Len() > 0 {
			mwCfg.Scripts = engine
		}
		capture, err := middleware.New(mwCfg)
		if err != nil {
			lg.Fatal().Err(err).Msg("Failed to initialize capture middleware")
		}
		app.Use(capture)
	}

	proxyHandler, err := proxy.NewProxyHandler(&cfg.Proxy, &lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("Failed to initialize proxy handler")
	}
	app.All("/*", proxyHandler.Handle)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		lg.Info().
			Str("addr", addr).
			Str("target", cfg.Proxy.Target).
			Bool("telemetry", cfg.Telemetry.Enabled).
			Bool("archive", cfg.Archive.Enabled).
			Msg("Starting server")
		if err := app.Listen(addr); err != nil {
			lg.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info().Msg("Shutting down server...")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		lg.Error().Err(err).Msg("Failed to shutdown server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if dispatcher != nil {
		if err := dispatcher.Wait(shutdownCtx); err != nil {
			lg.Warn().Err(err).Msg("Pending deliveries abandoned")
		}
	}
	if archiveSvc != nil {
		if err := archiveSvc.Shutdown(shutdownCtx); err != nil {
			lg.Warn().Err(err).Msg("Archive queue not fully flushed")
		}
	}
	if repo != nil {
		if err := repo.Close(); err != nil {
			lg.Error().Err(err).Msg("Failed to close repository")
		}
	}
}

func newDispatcher(cfg *config.Config, lg *zerolog.Logger, m *metrics.MetricsCollector, archive *service.ArchiveService) *dispatch.Dispatcher {
	opts := []dispatch.Option{dispatch.WithMetrics(m)}
	if archive != nil {
		opts = append(opts, dispatch.WithSink(archive))
	}
	return dispatch.New(dispatch.Config{
		Endpoint: cfg.Telemetry.Endpoint,
		Timeout:  cfg.Telemetry.Timeout,
		Debug:    cfg.Telemetry.Debug,
	}, lg, opts...)
}
