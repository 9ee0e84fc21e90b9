package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-plancheck/internal/application"
	"github.com/bryanwahyu/automaton-plancheck/internal/application/sweeper"
	"github.com/bryanwahyu/automaton-plancheck/internal/bootstrap"
	"github.com/bryanwahyu/automaton-plancheck/internal/config"
	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
	"github.com/bryanwahyu/automaton-plancheck/internal/infra/lock"
	"github.com/bryanwahyu/automaton-plancheck/internal/infra/queue/kafka"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	logger, err := bootstrap.Logger(cfg)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Fatal("kafka.brokers is required for the worker")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	repos, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		logger.Fatal("database connect error", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer repos.DB.Close()

	store, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		logger.Fatal("storage init error", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}

	svc, err := bootstrap.Pipeline(cfg, repos, store, logger)
	if err != nil {
		logger.Fatal("pipeline init error", zap.Error(err))
	}

	// several workers share one consumer group, so ownership goes through redis
	var locker domain.Locker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping error", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockPrefix, cfg.Redis.LockTTL, logger)
	} else {
		logger.Warn("redis not configured, runs are only locked within this process")
		locker = lock.NewLocalLocker()
	}
	svc.Locker = locker

	// run.finished events
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		logger.Fatal("kafka producer error", zap.Error(err))
	}
	publisher := kafka.NewPublisher(producer, cfg.Kafka.EventsTopic, logger)
	defer publisher.Close()
	svc.Notifiers = append(svc.Notifiers, publisher)

	// runs execute in the pool, not in ConsumeClaim, so a rebalance or SIGTERM
	// ends the session without waiting out a run. A started run still goes to a
	// terminal state; shutdown waits for it below.
	pool := kafka.NewRunPool(cfg.Kafka.Workers, func(_ context.Context, id domain.RunID) error {
		_, err := svc.RunUntilDone(id)
		switch {
		case errors.Is(err, domain.ErrRunTerminal):
			logger.Info("run already finished, skipping", zap.String("run_id", string(id)))
			return nil
		case errors.Is(err, domain.ErrRunLocked):
			logger.Info("run owned by another worker, skipping", zap.String("run_id", string(id)))
			return nil
		}
		return err
	}, logger)
	handler := kafka.NewRunRequestHandler(pool.Submit, logger)

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.RequestTopic,
		GroupID: cfg.Kafka.GroupID,
		Handler: handler,
		Log:     logger,
	})
	if err != nil {
		logger.Fatal("kafka consumer error", zap.Error(err))
	}
	defer consumer.Close()

	if cfg.Sweeper.Enabled {
		sw := &sweeper.Sweeper{
			Runs:       repos.Runs,
			Locker:     locker,
			Clock:      application.SystemClock{},
			Log:        logger,
			StaleAfter: cfg.Sweeper.StaleAfter,
			BatchSize:  cfg.Sweeper.BatchSize,
			Notifiers:  svc.Notifiers,
		}
		if err := sw.Start(cfg.Sweeper.Schedule); err != nil {
			logger.Fatal("sweeper start error", zap.Error(err))
		}
		defer sw.Stop()
	}

	if err := consumer.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Fatal("kafka consumer start error", zap.Error(err))
	}
	logger.Info("worker running",
		zap.String("topic", cfg.Kafka.RequestTopic),
		zap.String("group", cfg.Kafka.GroupID),
		zap.Int("workers", cfg.Kafka.Workers))

	<-ctx.Done()
	logger.Info("shutting down worker, waiting for started runs...")
	pool.Wait()
}
