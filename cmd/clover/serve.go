package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/processor"
	"github.com/Ramsey-B/clover/pkg/routes/dedup"
	"github.com/Ramsey-B/clover/pkg/routes/health"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the admin API and consume dedup triggers",
	Long: `Start the HTTP admin API and, when KAFKA_CONSUMER_ENABLED is true, the
consumer of the dedup trigger topic. Migrations in db/pg are applied first.

Routes:
  POST /api/v1/tenants/:tenant_id/dedup-runs
  GET  /api/v1/tenants/:tenant_id/merge-logs
  GET  /api/v1/health, /api/v1/health/live, /api/v1/health/ready
  GET  /metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd)
	},
}

func init() {
	serveCmd.Flags().Int("port", 3004, "HTTP port")
	serveCmd.Flags().Int("workers", 4, "Tenants processed in parallel for batch triggers")
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(shutdownCtx)
	}()

	if err := a.start(ctx); err != nil {
		return fmt.Errorf("failed to start dependencies: %w", err)
	}
	cfg, logger := a.cfg, a.logger

	checker := health.NewChecker(cfg.Version)
	checker.AddCheck("database", a.db.PingContext)
	if a.redis != nil {
		checker.AddCheck("redis", func(context.Context) error { return a.redis.Ping() })
	}
	if a.graph != nil {
		checker.AddCheck("graph", a.graph.VerifyConnectivity)
	}

	var consumer *kafka.Consumer
	if cfg.KafkaConsumerEnabled {
		proc := processor.NewProcessor(a.engine, cfg.DedupWorkerCount, logger)
		consumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaTriggerTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, logger, proc.HandleMessage)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start trigger consumer: %w", err)
		}
		checker.AddCheck("kafka", func(context.Context) error {
			if !consumer.Health() {
				return errors.New("trigger consumer is not running")
			}
			return nil
		})
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	dedup.NewHandler(a.engine, a.mergeLogs, logger).Register(e.Group("/api/v1/tenants/:tenant_id"))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       cfg.HttpServerReadTimeout,
		ReadHeaderTimeout: cfg.HttpServerReadHeaderTimeout,
		WriteTimeout:      cfg.HttpServerWriteTimeout,
		IdleTimeout:       cfg.HttpServerIdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	checker.SetReady(true)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("HTTP server failed")
			return err
		}
	}

	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to shut down HTTP server")
	}
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to stop trigger consumer")
		}
	}
	return nil
}
