package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/pixelforge/internal/backend"
	"github.com/dunamismax/pixelforge/internal/bootstrap"
	"github.com/dunamismax/pixelforge/internal/config"
	"github.com/dunamismax/pixelforge/internal/telemetry"
	"github.com/dunamismax/pixelforge/internal/webhook"
	"github.com/dunamismax/pixelforge/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    "pixelforge-worker",
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		ServiceVersion: cfg.Cache.Revision,
		Attributes: map[string]string{
			"backend": cfg.Transform.Backend,
			"tier":    cfg.Transform.Tier,
		},
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := backend.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer backend.Shutdown()

	app, err := bootstrap.Build(ctx, cfg, log.New(os.Stdout, "[pipeline] ", log.LstdFlags|log.Lmsgprefix))
	if err != nil {
		logger.Fatalf("build pipeline: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Printf("pipeline close error: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, worker.Deps{
		Pipeline: app.Pipeline,
		Sources:  app.Sources,
		Presets:  app.Registry,
		Jobs:     app.Jobs,
		Webhooks: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
		}),
	})
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}
	srv.RegisterCollectors(app.Pipeline.Collectors()...)

	if cfg.Worker.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           srv.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("metrics server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}
}
