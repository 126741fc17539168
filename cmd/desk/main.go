package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"contentdesk/core/internal/app"
	"contentdesk/core/internal/config"
	"contentdesk/core/internal/localstore"
	"contentdesk/core/internal/logging"
	"contentdesk/core/internal/metrics"
	"contentdesk/core/internal/push"
	"contentdesk/core/internal/remote"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

type mirror interface {
	app.LocalStore
	Close() error
}

func main() {
	cfg := config.Load()
	logger := logging.Must(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	gin.SetMode(gin.ReleaseMode)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	endpoints, err := config.LoadEndpoints(cfg.EndpointsFile, cfg.Endpoints())
	if err != nil {
		logger.Warn("endpoints file unreadable, using environment defaults", zap.Error(err))
	}
	cfg.RemoteBaseURL = endpoints.BaseURL
	cfg.PushURL = endpoints.PushURL

	remoteClient := remote.New(cfg.RemoteBaseURL,
		remote.WithTimeout(cfg.RequestTimeout),
		remote.WithRateLimit(cfg.RequestsPerSecond),
		remote.WithObserver(m.RecordRemote),
	)
	pushClient := push.New(push.Config{
		URL:                  cfg.PushURL,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, logger.Named("push"))

	var local mirror
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := localstore.NewRedisStore(cfg.RedisURL, cfg.KeyPrefix, logger.Named("localstore"))
		if err != nil {
			logger.Warn("redis mirror unavailable, keeping the mirror in memory", zap.Error(err))
		} else {
			logger.Info("using redis for the local mirror")
			local = redisStore
		}
	}
	if local == nil {
		local = localstore.NewMemoryStore(logger.Named("localstore"))
	}
	defer local.Close()

	service := app.New(cfg, remoteClient, pushClient, local, logger, m)
	startCtx, cancelStart := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := service.Start(startCtx); err != nil {
		cancelStart()
		logger.Fatal("sync core failed to start", zap.Error(err))
	}
	cancelStart()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, registry, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("content desk listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	service.Stop()
}
