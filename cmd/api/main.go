package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-plancheck/internal/bootstrap"
	"github.com/bryanwahyu/automaton-plancheck/internal/config"
	"github.com/bryanwahyu/automaton-plancheck/internal/infra/httpserver"
	"github.com/bryanwahyu/automaton-plancheck/internal/infra/lock"
	"github.com/bryanwahyu/automaton-plancheck/internal/middleware"
)

func main() {
	// load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := bootstrap.Logger(cfg)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	// connect database
	repos, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		logger.Fatal("database connect error", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer repos.DB.Close()

	// init object storage
	store, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		logger.Fatal("storage init error", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}

	// init pipeline
	svc, err := bootstrap.Pipeline(cfg, repos, store, logger)
	if err != nil {
		logger.Fatal("pipeline init error", zap.Error(err))
	}

	checkers := bootstrap.Checkers(repos, store)

	// run lock shared with workers, kalau redis dikonfigurasi
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		svc.Locker = lock.NewRedisLocker(rdb, cfg.Redis.LockPrefix, cfg.Redis.LockTTL, logger)
		checkers["redis"] = middleware.PingChecker(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	} else {
		logger.Warn("redis not configured, runs are only locked within this process")
		svc.Locker = lock.NewLocalLocker()
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
	defer limiter.Close()

	handler := httpserver.NewRouter(httpserver.Options{
		Runs:        repos.Runs,
		Findings:    repos.Findings,
		Runner:      svc,
		Checkers:    checkers,
		APIKeys:     cfg.Auth.APIKeys,
		Limiter:     limiter,
		CORSOrigins: cfg.Server.CORSOrigins,
		Log:         logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
