package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirsalarsafaei/sqlc-pgx-monitoring/dbtracer"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"payrelay/config"
	"payrelay/internal/payments"
	"payrelay/internal/payments/handlers"
	"payrelay/internal/payments/queue"
	"payrelay/internal/payments/workers"
)

func main() {
	appConfig, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	cleanup, err := config.InitTracer(appConfig.Telemetry)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer cleanup()

	logger := setupLogger(appConfig)

	dbpool := setupDbPool(appConfig)
	defer dbpool.Close()

	store := payments.NewPaymentStore(dbpool, logger)
	if err := store.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to prepare database schema: %v", err)
	}

	cacheClient := setupCacheClient(appConfig)
	defer cacheClient.Close()

	httpClient := setupHttpClient(appConfig)

	monitor := workers.NewHealthMonitor(
		appConfig.Processors.DefaultURL,
		appConfig.Processors.FallbackURL,
		httpClient,
		cacheClient,
		appConfig.Processing.ProbeInterval,
		logger,
	)

	buffer := payments.NewWriteBuffer(store, appConfig.Processing.BatchSize, appConfig.Processing.FlushInterval, logger)

	defaultProcessor := payments.NewPaymentProcessor(httpClient, appConfig.Processors.DefaultURL, payments.ProcessorTypeDefault, logger)
	fallbackProcessor := payments.NewPaymentProcessor(httpClient, appConfig.Processors.FallbackURL, payments.ProcessorTypeFallback, logger)

	dispatcher := workers.NewDispatcher(defaultProcessor, fallbackProcessor, monitor, buffer, logger)

	ingress := queue.New[payments.Payment](appConfig.Processing.QueueCapacity)

	pool := workers.NewWorkerPool(ingress, dispatcher, workers.PoolConfig{
		Workers:       appConfig.Processing.Workers,
		RetryCapacity: appConfig.Processing.RetryCapacity,
		RetryBackoff:  appConfig.Processing.RetryBackoff,
	}, logger)

	coordinator := payments.NewSummaryCoordinator(ingress, buffer, store, logger)

	ctx, cancel := context.WithCancel(context.Background())

	go monitor.Run(ctx)
	go buffer.Run(ctx)
	pool.Start(ctx)

	e := echo.New()
	e.HideBanner = true

	if appConfig.Telemetry.Enabled {
		e.Use(otelecho.Middleware(appConfig.Telemetry.ServiceName))
	}
	e.Use(middleware.Recover())

	paymentHandler := handlers.NewPaymentHandler(ingress, logger)
	summaryHandler := handlers.NewSummaryHandler(coordinator)
	purgeHandler := handlers.NewPurgePaymentsHandler(store, logger)

	e.POST("/payments", paymentHandler.Handle)
	e.GET("/payments-summary", summaryHandler.Handle)
	e.POST("/purge-payments", purgeHandler.Handle)
	e.GET("/health", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	go func() {
		addr := fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.Port)
		logger.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down http server", "error", err)
	}

	// Stop intake first, let workers finish their current payment, then
	// write out whatever is still buffered.
	cancel()
	pool.Stop()
	buffer.ForceFlush(shutdownCtx)
}

func setupLogger(appConfig *config.AppConfig) *slog.Logger {
	logLevel := slog.LevelInfo
	if appConfig.Telemetry.Enabled {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

func setupHttpClient(appConfig *config.AppConfig) *http.Client {
	var transport http.RoundTripper = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   2 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,

		IdleConnTimeout:    90 * time.Second,
		DisableCompression: true,
		ForceAttemptHTTP2:  false,
	}

	if appConfig.Telemetry.Enabled {
		transport = otelhttp.NewTransport(transport)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   10 * time.Second,
	}
}

func setupDbPool(appConfig *config.AppConfig) *pgxpool.Pool {
	dbConfig, err := pgxpool.ParseConfig(appConfig.Postgres.URL)
	if err != nil {
		log.Fatalf("Failed to parse database URL: %v", err)
	}

	if appConfig.Telemetry.Enabled {
		dbTracer, _ := dbtracer.NewDBTracer("payments")
		dbConfig.ConnConfig.Tracer = dbTracer
	}

	dbpool, err := pgxpool.NewWithConfig(context.Background(), dbConfig)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	return dbpool
}

func setupCacheClient(appConfig *config.AppConfig) *redis.Client {
	opt, err := redis.ParseURL(appConfig.Cache.URL)
	if err != nil {
		log.Fatalf("Failed to parse cache URL: %v", err)
	}

	cacheClient := redis.NewClient(opt)

	if appConfig.Telemetry.Enabled {
		if err := redisotel.InstrumentTracing(cacheClient); err != nil {
			panic(err)
		}

		if err := redisotel.InstrumentMetrics(cacheClient); err != nil {
			panic(err)
		}
	}

	return cacheClient
}
