// Package bootstrap builds the runtime graph shared by cmd/api and cmd/worker.
package bootstrap

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bryanwahyu/automaton-plancheck/internal/application"
	"github.com/bryanwahyu/automaton-plancheck/internal/application/pipeline"
	"github.com/bryanwahyu/automaton-plancheck/internal/config"
	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
	"github.com/bryanwahyu/automaton-plancheck/internal/infra/ai/cohere"
	"github.com/bryanwahyu/automaton-plancheck/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/automaton-plancheck/internal/infra/db/mysql"
	"github.com/bryanwahyu/automaton-plancheck/internal/infra/db/postgres"
	"github.com/bryanwahyu/automaton-plancheck/internal/infra/raster"
	"github.com/bryanwahyu/automaton-plancheck/internal/infra/storage"
	"github.com/bryanwahyu/automaton-plancheck/internal/middleware"
)

// Logger builds the process logger and installs it as the zap global.
func Logger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, eris.Wrapf(err, "log level %q", cfg.Log.Level)
	}
	zc := zap.NewProductionConfig()
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	log, err := zc.Build()
	if err != nil {
		return nil, eris.Wrap(err, "build logger")
	}
	zap.ReplaceGlobals(log)
	return log, nil
}

// Repositories groups the relational ports of one driver.
type Repositories struct {
	DB           *sql.DB
	Runs         domain.RunRepository
	Requirements domain.RequirementRepository
	Findings     domain.FindingRepository
}

// OpenDatabase connects the configured driver and builds its repositories.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*Repositories, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, eris.Wrap(err, "postgres connect")
		}
		return &Repositories{
			DB:           db,
			Runs:         postgres.NewRunRepository(db),
			Requirements: postgres.NewRequirementRepository(db),
			Findings:     postgres.NewFindingRepository(db),
		}, nil
	default:
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, eris.Wrap(err, "mysql connect")
		}
		return &Repositories{
			DB:           db,
			Runs:         mysqlp.NewRunRepository(db),
			Requirements: mysqlp.NewRequirementRepository(db),
			Findings:     mysqlp.NewFindingRepository(db),
		}, nil
	}
}

// ObjectStore is the storage port plus a reachability probe for /health.
type ObjectStore interface {
	domain.ObjectStore
	Ping(ctx context.Context) error
}

// OpenStore returns the configured object store driver.
func OpenStore(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	if cfg.Storage.Driver == "s3" {
		s3c := cfg.Storage.S3
		st, err := storage.NewS3(ctx, s3c.BucketName, storage.S3Config{
			Region:       s3c.Region,
			Profile:      s3c.Profile,
			Endpoint:     s3c.Endpoint,
			UsePathStyle: s3c.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	m := cfg.Storage.Minio
	st, err := storage.New(ctx, m.Endpoint, m.Region, m.BucketName, m.AccessKey, m.SecretKey, m.UseSSL)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Checkers returns the dependency probes served at /health.
func Checkers(repos *Repositories, store ObjectStore) map[string]middleware.HealthChecker {
	return map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: repos.DB},
		"storage":  middleware.PingChecker(store.Ping),
	}
}

// Pipeline assembles the five-stage service with the metrics notifier attached.
// Callers set the locker and append their own notifiers.
func Pipeline(cfg *config.Config, repos *Repositories, store domain.ObjectStore, log *zap.Logger) (*pipeline.Service, error) {
	if cfg.AI.OpenAI.APIKey == "" {
		return nil, eris.New("openai api key is required (ai.openai.apiKey or OPENAI_API_KEY)")
	}
	var vision *openai.Client
	if cfg.AI.OpenAI.BaseURL != "" {
		vision = openai.NewClientWithBaseURL(cfg.AI.OpenAI.APIKey, cfg.AI.OpenAI.BaseURL, cfg.AI.OpenAI.Model)
	} else {
		vision = openai.NewClient(cfg.AI.OpenAI.APIKey, cfg.AI.OpenAI.Model)
	}

	var consolidation domain.VisionModel = vision
	if cfg.AI.Cohere.APIKey != "" {
		consolidation = cohere.NewClient(cfg.AI.Cohere.APIKey, cfg.AI.Cohere.Model)
		log.Info("recommendations use cohere", zap.String("model", cfg.AI.Cohere.Model))
	}

	clock := application.SystemClock{}
	rasterizer := raster.NewEngine(raster.NewPoppler(cfg.Pipeline.TempDir))

	return &pipeline.Service{
		Runs:  repos.Runs,
		Clock: clock,
		Log:   log.Named("pipeline"),
		Normalizer: &pipeline.Normalizer{
			Store:      store,
			Rasterizer: rasterizer,
			Log:        log.Named("normalizer"),
		},
		Classifier: &pipeline.Classifier{
			Store: store,
			Model: vision,
			Log:   log.Named("classifier"),
		},
		Analyzer: &pipeline.Analyzer{
			Requirements: repos.Requirements,
			Store:        store,
			Model:        vision,
			Log:          log.Named("analyzer"),
			Concurrency:  cfg.Pipeline.Concurrency,
		},
		Validator: &pipeline.Validator{Log: log.Named("validator")},
		Finalizer: &pipeline.Finalizer{
			Findings: repos.Findings,
			Model:    consolidation,
			Clock:    clock,
			Log:      log.Named("finalizer"),
		},
		Notifiers: []pipeline.Notifier{middleware.RunNotifier()},
	}, nil
}
