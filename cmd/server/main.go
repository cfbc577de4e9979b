package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wsserial/backend/api/handlers"
	"github.com/wsserial/backend/internal/config"
	"github.com/wsserial/backend/internal/console"
	"github.com/wsserial/backend/internal/db"
	"github.com/wsserial/backend/internal/metrics"
	"github.com/wsserial/backend/internal/repository"
	"github.com/wsserial/backend/internal/run"
	"github.com/wsserial/backend/internal/serial"
	"github.com/wsserial/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	if err := serve(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return err
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.CloseDB()

	runRepo := repository.NewRunRepository(database)
	if n, err := runRepo.CloseActive(ctx); err != nil {
		return err
	} else if n > 0 {
		logger.Warn("closed runs left active by a previous process", zap.Int("count", n))
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewCollector("wsserial", registry, logger)
	if err != nil {
		return err
	}

	// Transport and bridge
	ws.SetCheckOrigin(ws.AllowOrigins(cfg.AllowedOrigins))
	wsService := ws.NewService(cfg.MaxClients, logger)
	defer wsService.Close()

	runManager := run.NewManager(runRepo, cfg.CaptureDir, logger)
	bridge := serial.New(cfg.SerialPath, logger,
		serial.WithMaxBuffer(cfg.MaxBuffer),
		serial.WithObserver(collector),
		serial.WithObserver(runManager.Observer()),
	)

	if _, err := runManager.Start(ctx, bridge, wsService, cfg.TxBuffer, cfg.RxBuffer); err != nil {
		return err
	}

	pump := console.NewPump(bridge, os.Stdout, console.Options{
		Mode:                 cfg.Mode,
		PollInterval:         cfg.PollInterval,
		HousekeepingInterval: cfg.HousekeepingInterval,
		OnHousekeeping: func() {
			collector.SetClients(wsService.ClientCount(cfg.SerialPath))
		},
	}, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pump.Run(ctx)
	}()

	if cfg.Mode == config.ModeConsole {
		// Not waited for: a pending stdin read cannot be interrupted
		go func() {
			if err := pump.ReadFrom(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("stdin reader stopped", zap.Error(err))
			}
		}()
	}

	// Initialize handlers
	serialHandler := handlers.NewSerialHandler(bridge, wsService, runManager)
	runHandler := handlers.NewRunHandler(runRepo, runManager)
	wsHandler := handlers.NewWebSocketHandler(wsService.Handler(), cfg.SerialPath, logger)

	// Initialize Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	wsHandler.RegisterRoutes(r)

	// API routes
	api := r.Group("/api")
	{
		serialHandler.RegisterRoutes(api)
		runHandler.RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("port", cfg.Port),
			zap.String("serial_path", cfg.SerialPath),
			zap.String("mode", cfg.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case serveErr = <-errCh:
		stop()
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	wg.Wait()

	if _, err := runManager.Stop(shutdownCtx); err != nil {
		logger.Warn("failed to close run", zap.Error(err))
	}

	return serveErr
}

// initLogger builds the process logger from the configured level and format.
func initLogger(cfg *config.Config) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.LogFormat == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.LogFormat == "console",
		Encoding:         cfg.LogFormat,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// requestLogger logs each HTTP request at debug level.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.With(zap.String("component", "http"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
