package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codelens/internal/common/cache"
	"codelens/internal/common/mq"
	"codelens/internal/runner/controller"
	"codelens/internal/runner/repository"
	"codelens/internal/runner/sandbox"
	"codelens/internal/runner/sandbox/spec"
	"codelens/internal/runner/service"
	"codelens/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/runner_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	clientset, err := sandbox.NewClientset(appCfg.Kube)
	if err != nil {
		logger.Error(context.Background(), "init kubernetes client failed", zap.Error(err))
		return
	}

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	producer, err := mq.NewKafkaProducer(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = producer.Close()
	}()

	profiles := spec.NewStaticProfileRepository(appCfg.Runner.profileOverrides())
	submitter := sandbox.NewSubmitter(clientset, appCfg.Kube.Namespace, profiles)
	watcher := sandbox.NewWatcher(clientset, appCfg.Kube.Namespace, appCfg.Runner.Watcher)
	sweeper := sandbox.NewSweeper(clientset, appCfg.Kube.Namespace, appCfg.Runner.Sweeper)

	statusRepo := repository.NewStatusRepository(redisCache, appCfg.Runner.StatusTTL)
	publisher := repository.NewMQBatchEventPublisher(producer, appCfg.Runner.BatchEventTopic)

	runnerService, err := service.NewRunnerService(
		submitter,
		watcher,
		sweeper,
		service.NewGovernor(appCfg.Runner.Governor),
		statusRepo,
		publisher,
	)
	if err != nil {
		logger.Error(context.Background(), "init runner service failed", zap.Error(err))
		return
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background cleanup of orphaned sandbox jobs.
	go sweeper.Run(shutdownCtx)

	httpServer := buildHTTPServer(appCfg.Server, runnerService, statusRepo, redisCache, producer)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "runner http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(
	cfg ServerConfig,
	runnerService *service.RunnerService,
	statusRepo *repository.StatusRepository,
	redisCache *cache.RedisCache,
	producer *mq.KafkaProducer,
) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	wsController := controller.NewWSController(runnerService)
	statusController := controller.NewStatusController(statusRepo, map[string]controller.Pinger{
		"redis": redisCache,
		"kafka": producer,
	})

	router.GET("/ws", wsController.Serve)
	router.GET("/api/v1/batches/:id/status", statusController.GetStatus)
	router.GET("/healthz", statusController.Health)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
