package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/semsearch/pkg/config"
	"github.com/papercomputeco/semsearch/pkg/daemon"
	embeddingutils "github.com/papercomputeco/semsearch/pkg/embeddings/utils"
	"github.com/papercomputeco/semsearch/pkg/lifecycle"
	"github.com/papercomputeco/semsearch/pkg/logger"
	"github.com/papercomputeco/semsearch/pkg/metrics"
	"github.com/papercomputeco/semsearch/pkg/utils"
)

// NewDaemon builds the embedding daemon described by cfg. A metrics
// database that cannot be opened is logged and skipped. The returned server
// owns the model and metrics recorder and releases them when it stops.
func NewDaemon(ctx context.Context, cfg *config.Config, lm *lifecycle.Manager, log *slog.Logger) (*daemon.Server, error) {
	log = logger.OrNop(log)

	runtime, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		APIKey:       cfg.Embedding.APIKey,
		Dimensions:   int(cfg.Embedding.Dimensions),
		Timeout:      cfg.Daemon.RequestTimeout.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", daemon.ErrModelFault, err)
	}

	model, err := daemon.NewModel(daemon.ModelConfig{
		Embedder:         runtime,
		ModelID:          cfg.Embedding.Model,
		Dimensions:       int(cfg.Embedding.Dimensions),
		QueryInstruction: cfg.Embedding.QueryInstruction,
		CacheSize:        int64(cfg.Daemon.CacheSize),
	})
	if err != nil {
		_ = runtime.Close()
		return nil, err
	}

	var recorder metrics.Recorder
	if cfg.Daemon.Metrics {
		store, err := metrics.NewSQLiteStore(ctx, lm.MetricsPath)
		if err != nil {
			log.Warn("failed to open metrics database, metrics disabled",
				"path", lm.MetricsPath,
				"error", err,
			)
		} else {
			recorder = store
			log.Debug("metrics enabled", "retention", cfg.Daemon.MetricsRetention.Duration)
		}
	}

	// Zero in config means never idle out; the server reads zero as its
	// default and a negative value as disabled.
	idle := cfg.Daemon.IdleTimeout.Duration
	if idle == 0 {
		idle = -1
	}

	srv, err := daemon.New(daemon.Config{
		Model:            model,
		Lifecycle:        lm,
		IdleTimeout:      idle,
		RequestTimeout:   cfg.Daemon.RequestTimeout.Duration,
		Concurrency:      int64(cfg.Daemon.Concurrency),
		MaxConnections:   cfg.Daemon.MaxConnections,
		Metrics:          recorder,
		MetricsRetention: cfg.Daemon.MetricsRetention.Duration,
		Version:          utils.Version,
		Logger:           log,
	})
	if err != nil {
		_ = model.Close()
		if recorder != nil {
			_ = recorder.Close()
		}
		return nil, err
	}
	return srv, nil
}
