package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"coordinator/internal/core/ports"
	"coordinator/internal/core/services"
	httphandlers "coordinator/internal/handlers/http"
	"coordinator/internal/infrastructure/distributed"
	"coordinator/internal/infrastructure/middleware"
	"coordinator/internal/infrastructure/monitoring"
	"coordinator/internal/infrastructure/pairing"
	wssignal "coordinator/internal/infrastructure/signal"
	"coordinator/pkg/circuitbreaker"
	"coordinator/pkg/config"
	"coordinator/pkg/logger"
	"coordinator/pkg/retry"
	"coordinator/pkg/tracing"
	"coordinator/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pairing broker (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(ctx context.Context, flags *rootFlags) error {
	startTime := time.Now()

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if cfg.Dashboard.Password == config.DefaultDashboardPassword {
		log.Warn("dashboard password is the default; set BROKER_DASHBOARD_PASSWORD")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	policy, err := buildPolicy(cfg)
	if err != nil {
		return err
	}

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	registry := pairing.NewRegistry(policy.Compatible,
		pairing.WithStrict(cfg.Pairing.Strict),
		pairing.WithLogger(log.Named("registry")),
	)

	checker := monitoring.NewHealthChecker()
	checker.AddRegistryCheck(registry, time.Second)

	var publisher ports.EventPublisher = distributed.NoopPublisher{}
	if cfg.Redis.Enabled {
		redisClient, err := distributed.NewRedisClient(ctx, redisOptions(cfg), retry.DefaultConfig(), log)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		instanceID := utils.GenerateSessionID()
		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
		bus := distributed.NewEventBus(redisClient, instanceID, breaker, log.Named("events"))
		defer bus.Close()
		publisher = bus
		checker.AddRedisCheck(redisClient, 2*time.Second)
		checker.AddBreakerCheck("event_bus", breaker, time.Second)

		directory := distributed.NewDirectory(redisClient, instanceID, 3*cfg.Redis.DirectorySync, log.Named("directory"))
		directoryDone := make(chan struct{})
		go func() {
			defer close(directoryDone)
			directory.Run(ctx, registry.Snapshot, cfg.Redis.DirectorySync)
		}()
		// Runs before redisClient.Close so the directory can clean up.
		defer func() {
			stop()
			<-directoryDone
		}()
	}

	pairingService := services.NewPairingService(registry, collector, publisher, log.Named("pairing"))
	adminService := services.NewAdminService(registry, pairingService, collector, log.Named("admin"))
	authService := services.NewAuthService(cfg.Dashboard.Password, cfg.Dashboard.JWTSecret, cfg.Dashboard.SessionTTL)

	relay := wssignal.NewRelay(registry, collector, cfg.Signal.PreviewLength, log.Named("relay"))

	var gate wssignal.ConnectionGate
	if limiter := middleware.NewConnectionLimiter(cfg); limiter != nil {
		gate = limiter
	}
	wsServer := wssignal.NewWebSocketServer(pairingService, relay, policy, gate, collector, wssignal.ServerOptions{
		Client: wssignal.ClientOptions{
			SendQueueSize:  cfg.Signal.SendQueueSize,
			MessageLogSize: cfg.Signal.MessageLogSize,
			LatencyWindow:  cfg.Signal.LatencyWindow,
			WriteTimeout:   cfg.Signal.WriteTimeout,
		},
		HandshakeTimeout:  cfg.Signal.HandshakeTimeout,
		MaxMessageSize:    cfg.Signal.MaxMessageSize,
		MaxDecodeErrors:   cfg.Signal.MaxDecodeErrors,
		PreviewLength:     cfg.Signal.PreviewLength,
		AllowedOrigins:    cfg.Signal.AllowedOrigins,
		MessagesPerSecond: wsMessageRate(cfg),
		MessageBurst:      cfg.RateLimiting.WebSocket.Burst,
	}, log.Named("ws"))

	monitor := wssignal.NewHealthMonitor(registry, pairingService, collector, cfg.Signal.PingInterval, cfg.Signal.PongTimeout, log.Named("health"))
	go monitor.Run(ctx)

	router := newRouter(cfg, zapLogger, authService, adminService, checker, registry, startTime)
	router.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// Hijacked WebSocket connections are not subject to WriteTimeout.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting pairing broker",
			"address", cfg.Server.Address,
			"ws_path", cfg.Signal.Path,
			"roles", policy.Roles(),
			"version", version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	closeAll(shutdownCtx, registry, log)

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("failed to flush traces", "error", err)
	}
	log.Info("pairing broker stopped")
	return nil
}

func newRouter(
	cfg *config.Config,
	zapLogger *zap.Logger,
	authService services.AuthService,
	adminService ports.AdminService,
	checker *monitoring.HealthChecker,
	registry ports.Registry,
	startTime time.Time,
) *gin.Engine {
	log := zapLogger.Sugar()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger.Named("http"))),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewHealthHandler(checker, registry, startTime).SetupRoutes(router)
	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	dashboard := router.Group("/")
	dashboard.Use(middleware.TracingMiddleware(), middleware.NewHTTPRateLimitMiddleware(cfg))

	protected := dashboard.Group("/")
	protected.Use(middleware.AuthMiddleware(authService, cfg.Dashboard.CookieName))

	httphandlers.NewDashboardHandler(adminService, authService, cfg.Dashboard.CookieName, false, log.Named("dashboard")).
		SetupRoutes(dashboard, protected)
	return router
}

// closeAll tells every remaining client the server is going away and waits
// for their handlers to unregister them.
func closeAll(ctx context.Context, registry ports.Registry, log *zap.SugaredLogger) {
	handles := registry.Handles()
	if len(handles) == 0 {
		return
	}
	for _, h := range handles {
		h.Close(websocket.CloseGoingAway, "Server shutting down")
	}
	log.Infow("closing remaining connections", "count", len(handles))

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for registry.Len() > 0 {
		select {
		case <-ctx.Done():
			log.Warnw("connections still open at shutdown deadline", "count", registry.Len())
			return
		case <-ticker.C:
		}
	}
}

func redisOptions(cfg *config.Config) distributed.RedisOptions {
	return distributed.RedisOptions{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}
}

func wsMessageRate(cfg *config.Config) float64 {
	if !cfg.RateLimiting.Enabled {
		return 0
	}
	return cfg.RateLimiting.WebSocket.MessagesPerSecond
}
