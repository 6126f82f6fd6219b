package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/halcyonbio/pharmawatch/internal/analyze"
	"github.com/halcyonbio/pharmawatch/internal/cli"
	"github.com/halcyonbio/pharmawatch/internal/config"
	"github.com/halcyonbio/pharmawatch/internal/db"
	"github.com/halcyonbio/pharmawatch/internal/logging"
	"github.com/halcyonbio/pharmawatch/internal/pipeline"
	"github.com/halcyonbio/pharmawatch/internal/source"
)

// pipelineRuntime bundles everything a pipeline command needs once the
// environment is loaded.
type pipelineRuntime struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *db.Pool
	sources *source.Registry
	svc     *pipeline.Service
}

func connectPipeline(ctx context.Context, envLoader *cli.EnvLoader) (*pipelineRuntime, error) {
	cfg, err := loadRuntimeConfig(envLoader)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	scorer, err := analyze.NewDefaultScorerRegistry(cfg.SentimentScorer).Scorer(cfg.SentimentScorer)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to resolve sentiment scorer: %w", err)
	}
	analyzer := analyze.New(scorer, cfg.TopTermsCount, logger)
	registry := source.NewDefaultRegistry(cfg, logger)

	return &pipelineRuntime{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		sources: registry,
		svc:     pipeline.NewService(pool, registry, analyzer, cfg, logger),
	}, nil
}

func (r *pipelineRuntime) Close() {
	if r != nil && r.pool != nil {
		r.pool.Close()
	}
}
