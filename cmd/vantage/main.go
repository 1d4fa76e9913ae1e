package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opsfleet-labs/vantage/internal/analyzer"
	"github.com/opsfleet-labs/vantage/internal/core"
	"github.com/opsfleet-labs/vantage/internal/engine"
	"github.com/opsfleet-labs/vantage/internal/health"
	"github.com/opsfleet-labs/vantage/internal/notify"
	"github.com/opsfleet-labs/vantage/internal/observer"
	"github.com/opsfleet-labs/vantage/internal/security"
	"github.com/opsfleet-labs/vantage/internal/storage"
	"github.com/opsfleet-labs/vantage/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("VANTAGE_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/vantage.yaml"
	}

	config, err := core.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Config load failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(config.App.LogLevel); err != nil {
		fmt.Printf("Logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := storage.NewPostgresClient(config.GetDatabaseURL(), logger.Log)
	if err != nil {
		logger.Fatal("Database connection failed", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Health(ctx); err != nil {
		logger.Fatal("Database health check failed", zap.Error(err))
	}

	httpClient := &http.Client{Timeout: config.SendTimeoutDuration()}

	dispatcher := notify.NewDispatcher(config.SendTimeoutDuration(), logger.Log)
	dispatcher.Register(notify.NewEmailChannel(
		config.Notifications.SMTP.Host,
		config.Notifications.SMTP.Port,
		config.Notifications.SMTP.From,
		logger.Log,
	))
	dispatcher.Register(notify.NewSlackChannel(httpClient, logger.Log))
	dispatcher.Register(notify.NewWebhookChannel(httpClient, logger.Log))
	dispatcher.Register(notify.NewSMSChannel(config.Notifications.SMSGatewayURL, httpClient, logger.Log))

	lifecycle := engine.NewLifecycle(db, dispatcher, logger.Log)
	evaluator := engine.NewEvaluator(db, lifecycle, logger.Log)
	ingestor := engine.NewIngestor(db, evaluator, config.EvaluationTimeoutDuration(), logger.Log)

	baselines := analyzer.NewBaselineCalculator(db, logger.Log)
	recorder := security.NewRecorder(db, security.NewLogCorrelator(logger.Log), logger.Log)
	aggregator := health.NewAggregator(db, logger.Log)

	var utilizationProvider analyzer.UtilizationProvider
	if config.Kubernetes.Enabled {
		provider, err := observer.NewKubernetesUtilizationProvider(logger.Log)
		if err != nil {
			logger.Warn("Kubernetes utilization provider not available", zap.Error(err))
		} else {
			utilizationProvider = provider
		}
	}
	planner := analyzer.NewCapacityPlanner(
		utilizationProvider,
		db,
		config.Capacity.DataWindowDays,
		config.Capacity.ForecastMonths,
		logger.Log,
	)

	observerCtx, observerCancel := context.WithCancel(context.Background())
	defer observerCancel()

	if config.Prometheus.Enabled {
		targets := make([]observer.ScrapeTarget, 0, len(config.Prometheus.Queries))
		for _, q := range config.Prometheus.Queries {
			targets = append(targets, observer.ScrapeTarget{Query: q.Query, MetricName: q.MetricName})
		}

		scraper, err := observer.NewPrometheusScraper(
			config.Prometheus.URL,
			targets,
			config.ScrapeIntervalDuration(),
			config.Prometheus.OrganizationID,
			ingestor,
			logger.Log,
		)
		if err != nil {
			logger.Fatal("Prometheus scraper init failed", zap.Error(err))
		}

		go func() {
			if err := scraper.Start(observerCtx); err != nil && err != context.Canceled {
				logger.Error("Prometheus scraper error", zap.Error(err))
			}
		}()
		logger.Info("Prometheus scraper started",
			zap.String("url", config.Prometheus.URL),
			zap.Int("targets", len(targets)))
	}

	if config.App.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), ginLogger())

	router.GET("/health", healthHandler(db, config))
	router.GET("/ready", readyHandler(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := &apiHandlers{
		db:         db,
		ingestor:   ingestor,
		baselines:  baselines,
		planner:    planner,
		recorder:   recorder,
		aggregator: aggregator,
	}

	v1 := router.Group("/api/v1")
	v1.Use(requireOrganization())
	{
		v1.POST("/metrics", api.recordMetric)
		v1.POST("/metrics/batch", api.recordMetricsBatch)

		v1.POST("/rules", api.createAlertRule)
		v1.GET("/alerts", api.listActiveAlerts)
		v1.POST("/alerts/:id/resolve", api.resolveAlert)

		v1.POST("/security/events", api.recordSecurityEvent)

		v1.POST("/baselines", api.calculateBaseline)
		v1.POST("/capacity", api.analyzeCapacity)

		v1.GET("/health/summary", api.healthSummary)
	}

	srv := &http.Server{
		Addr:           config.App.Listen,
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("HTTP server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	srv.Shutdown(shutdownCtx)
	observerCancel()
	db.Close()
}

func ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("ip", c.ClientIP()),
		)
	}
}

func healthHandler(db *storage.PostgresClient, config *core.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := db.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"version":   config.App.Version,
		})
	}
}

func readyHandler(db *storage.PostgresClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := db.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"reason": "database unavailable",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}
