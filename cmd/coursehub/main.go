package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coursehub/internal/core/domain"
	"coursehub/internal/core/services"
	httphandlers "coursehub/internal/handlers/http"
	backupinfra "coursehub/internal/infrastructure/backup"
	"coursehub/internal/infrastructure/channel"
	"coursehub/internal/infrastructure/distributed"
	"coursehub/internal/infrastructure/middleware"
	"coursehub/internal/infrastructure/monitoring"
	"coursehub/internal/infrastructure/repositories"
	wssignal "coursehub/internal/infrastructure/signal"
	"coursehub/pkg/backup"
	"coursehub/pkg/cache"
	"coursehub/pkg/config"
	pkgdistributed "coursehub/pkg/distributed"
	"coursehub/pkg/logger"
	"coursehub/pkg/tracing"
	"coursehub/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if err := run(cfg, zapLogger); err != nil {
		log.Fatalw("coursehub stopped with error", "error", err)
	}
	log.Info("coursehub stopped")
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	log := zapLogger.Sugar()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "coursehub",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("tracer shutdown failed", "error", err)
		}
	}()

	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := repoFactory.Close(); err != nil {
			log.Errorw("error closing repositories", "error", err)
		}
	}()
	store := repoFactory.Store()

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL)

	hub := wssignal.NewHub(wssignal.HubConfig{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		MaxMessageSize: cfg.Signal.MaxMessageSize,
		SeedTimeout:    cfg.Store.TxTimeout,
		AllowedOrigins: cfg.Signal.AllowedOrigins,
	}, authService, log)
	hub.SetConnectionObserver(collector)

	var (
		bus      channel.Bus
		cmdBus   *distributed.CommandBus
		presence *distributed.PresenceRegistry
	)
	if client := repoFactory.RedisClient(); client != nil {
		instanceID := utils.GenerateInstanceID()
		cmdBus = distributed.NewCommandBus(client, instanceID, log)
		presence = distributed.NewPresenceRegistry(client, instanceID, cfg.Redis.PresenceTTL, log)
		bus = cmdBus
		hub.SetPresenceTracker(presence)
		log.Infow("multi-instance channel dispatch enabled", "instance_id", instanceID)
	}

	registry := channel.NewRegistry(channel.Config{
		DispatchTimeout: cfg.Channel.DispatchTimeout,
		RetryQueueSize:  cfg.Channel.RetryQueueSize,
		Retry:           cfg.Channel.Retry,
		Breaker:         cfg.Channel.Breaker,
	}, hub, bus, log)
	registry.SetObserver(collector)
	if presence != nil {
		registry.SetPresence(presence)
	}
	registry.Start(ctx)
	defer registry.Close()

	if cmdBus != nil {
		go func() {
			if err := cmdBus.Subscribe(ctx, registry.HandleRemote); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("command bus subscription ended", "error", err)
			}
		}()
	}

	membershipService := services.NewMembershipService(store, registry, cfg.Store.TxTimeout, log)
	membershipService.SetObserver(collector)
	hub.SetCourseSource(membershipService)

	health := monitoring.NewHealthChecker()
	health.AddStoreCheck(store, cfg.Monitoring.HealthCheckInterval, cfg.Monitoring.HealthCheckTimeout)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, cfg.Monitoring.HealthCheckInterval, cfg.Monitoring.HealthCheckTimeout)
	}
	health.StartBackgroundChecks(ctx)

	if cfg.Backup.Enabled {
		scheduler, err := newBackupScheduler(cfg, repoFactory, collector, log)
		if err != nil {
			return err
		}
		go scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	names := cache.New[domain.UserID, string](10 * time.Minute)
	go names.RunCleanup(ctx, time.Minute)

	router := newRouter(cfg, routerDeps{
		logger:    zapLogger,
		auth:      authService,
		recorder:  middleware.NewActorRecorder(store, names, log),
		courses:   httphandlers.NewCourseHandler(membershipService),
		hub:       hub,
		health:    health,
		collector: collector,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting coursehub server", "address", cfg.Server.Address, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-serverErr:
		log.Errorw("server failed", "error", runErr)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	cancel()

	if presence != nil {
		if err := presence.Cleanup(shutdownCtx); err != nil {
			log.Warnw("presence cleanup failed", "error", err)
		}
	}
	if cmdBus != nil {
		if err := cmdBus.Close(); err != nil {
			log.Warnw("command bus close failed", "error", err)
		}
	}
	return runErr
}

func newBackupScheduler(
	cfg *config.Config,
	repoFactory *repositories.RepositoryFactory,
	collector *monitoring.PrometheusCollector,
	log *zap.SugaredLogger,
) (*backupinfra.Scheduler, error) {
	source, ok := repoFactory.Snapshotter()
	if !ok {
		return nil, fmt.Errorf("store driver %q cannot take snapshots", cfg.Store.Driver)
	}
	storage, err := backup.NewFileStorage(cfg.Backup.Directory)
	if err != nil {
		return nil, err
	}

	scheduler := backupinfra.NewScheduler(backup.NewBackupService(storage, "1"), source, backupinfra.Config{
		Interval:  cfg.Backup.Interval,
		Retention: cfg.Backup.Retention,
	}, log)
	scheduler.SetObserver(collector)

	if client := repoFactory.RedisClient(); client != nil {
		locks := pkgdistributed.NewLockManager(client, "coursehub:lock:")
		scheduler.SetLockFactory(func() backupinfra.Lock {
			return locks.AcquireLock("backup", cfg.Backup.LockTTL)
		})
	}
	log.Infow("scheduled backups enabled", "directory", cfg.Backup.Directory, "interval", cfg.Backup.Interval)
	return scheduler, nil
}

type routerDeps struct {
	logger    *zap.Logger
	auth      services.AuthService
	recorder  *middleware.ActorRecorder
	courses   *httphandlers.CourseHandler
	hub       *wssignal.Hub
	health    *monitoring.HealthChecker
	collector *monitoring.PrometheusCollector
}

func newRouter(cfg *config.Config, deps routerDeps) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := deps.logger.Sugar()

	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestMiddleware(logger.NewContextLogger(deps.logger), deps.collector),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	api := router.Group("/api/v1", middleware.AuthMiddleware(deps.auth, deps.recorder))
	deps.courses.SetupRoutes(api)

	router.GET("/ws", gin.WrapF(deps.hub.HandleWebSocket))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.health.Snapshot())
	})
	router.GET("/ready", func(c *gin.Context) {
		status := deps.health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	router.GET("/ws/health", gin.WrapF(deps.hub.HealthCheck))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("prometheus metrics enabled")
	}
	return router
}
