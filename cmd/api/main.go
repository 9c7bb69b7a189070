package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chainscan/internal/api"
	"chainscan/internal/config"
	"chainscan/internal/queue"
	"chainscan/internal/ratelimit"
	"chainscan/internal/service"
	"chainscan/internal/store"
	"chainscan/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st := store.New(cfg.MaxRetainedJobs)
	q := queue.New(cfg.AdmissionDelays())
	pool := worker.NewPool(cfg, q, st)
	svc := service.New(cfg, st, q, pool)
	limiter := ratelimit.NewTokenBucket(cfg.RateLimitCapacity, cfg.RateLimitRefill)

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		if err := pool.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("worker pool stopped")
		}
	}()

	server := api.New(cfg, svc, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info().Str("port", cfg.HTTPPort).Int("workers", cfg.WorkerCount).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	<-poolDone
	log.Info().Msg("shutdown complete")
}
