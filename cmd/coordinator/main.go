package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskctl/remotetask/internal/api"
	"github.com/taskctl/remotetask/internal/config"
	"github.com/taskctl/remotetask/internal/events"
	"github.com/taskctl/remotetask/internal/logger"
	"github.com/taskctl/remotetask/internal/remotetask"
	"github.com/taskctl/remotetask/internal/rpc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")

	log := logger.Get()
	log.Info().Msg("Starting coordinator...")

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	publisher := events.NewRedisPubSub(redisClient)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close event publisher")
		}
	}()

	var codec rpc.Codec = rpc.NewJSONCodec()
	if cfg.RPC.PreferBinaryCodec {
		codec = rpc.NewNegotiatingCodec(rpc.NewBinaryCodec(), rpc.NewJSONCodec())
	}

	retryPolicy := remotetask.DefaultRetryPolicy()
	if cfg.RPC.MinErrorDuration > 0 {
		retryPolicy.MinBackoff = cfg.RPC.MinErrorDuration
	}

	factory := remotetask.NewFactory(remotetask.FactoryConfig{
		Client: rpc.NewHTTPClient(cfg.RPC.RequestTimeout, cfg.RPC.TraceHTTP),
		Codec:  codec,
		Clock:  rpc.SystemClock{},
		Timeouts: remotetask.Timeouts{
			StatusRefreshMaxWait:   cfg.RPC.StatusRefreshMaxWait,
			InfoUpdateInterval:     cfg.RPC.InfoUpdateInterval,
			TaskInfoRefreshMaxWait: cfg.RPC.TaskInfoRefreshMaxWait,
			MaxErrorDuration:       cfg.RPC.MaxErrorDuration,
			RetryPolicy:            retryPolicy,
		},
		Publisher: publisher,
	})
	defer factory.Stop()

	server := api.NewServer(cfg, factory, publisher)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port),
		Handler:      server,
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
		IdleTimeout:  cfg.Admin.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.Start(ctx)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("admin HTTP server listening")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down coordinator...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	server.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Coordinator stopped")
}
