package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"taskdeck/internal/api"
	"taskdeck/internal/config"
	fileutil "taskdeck/internal/file"
	"taskdeck/internal/task"
)

const configEnv = "TASKDECK_CONFIG"

func main() {

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	registry := task.NewRegistry(
		task.WithRemovalPolicy(cfg.RemovalPolicy),
		task.WithObserveInterval(cfg.ObserveInterval),
	)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	router := setupRouter(cfg)
	wireAPI(router, registry, cfg, baseCtx)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		log.Info().Int("port", cfg.Port).
			Str("removal_policy", cfg.RemovalPolicy.String()).
			Str("timer_policy", cfg.TimerPolicy.String()).
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, registry, filepath.Join(cfg.DataDir, "report.json"), shutdownTimeout)
}

func configPath() string {
	if p := os.Getenv(configEnv); p != "" {
		return p
	}
	return "config.yml"
}

func setupRouter(cfg config.Config) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.RequestID())
	r.Use(api.ZerologLogger())
	if cfg.RateLimit.RequestsPerSecond > 0 {
		r.Use(api.RateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)))
	}
	return r
}

func wireAPI(router *gin.Engine, registry *task.Registry, cfg config.Config, baseCtx context.Context) {
	apiHandler := api.NewAPI(registry, api.Options{
		DefaultDuration: cfg.DefaultDuration,
		TimerPolicy:     cfg.TimerPolicy,
		BaseContext:     baseCtx,
	})
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, registry *task.Registry, reportPath string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !registry.WaitAll(ctx) {
		log.Warn().Msg("task timers did not finish before timeout")
	}
	if err := registry.WriteReport(reportPath); err != nil {
		log.Warn().Err(err).Str("path", reportPath).Msg("write shutdown report")
	} else {
		log.Info().Str("path", reportPath).Int("tasks", registry.Len()).Msg("shutdown report written")
	}
	log.Info().Msg("server exited cleanly")
}
