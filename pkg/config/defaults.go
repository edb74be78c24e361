package config

import (
	"time"

	"github.com/papercomputeco/semsearch/pkg/batch"
	"github.com/papercomputeco/semsearch/pkg/chunker"
	"github.com/papercomputeco/semsearch/pkg/client"
	"github.com/papercomputeco/semsearch/pkg/daemon"
	"github.com/papercomputeco/semsearch/pkg/eventstream/kafka"
	eventstreamutils "github.com/papercomputeco/semsearch/pkg/eventstream/utils"
	"github.com/papercomputeco/semsearch/pkg/indexer"
	"github.com/papercomputeco/semsearch/pkg/retry"
	"github.com/papercomputeco/semsearch/pkg/source/local"
	"github.com/papercomputeco/semsearch/pkg/vector"
)

const (
	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "bge-m3"
	defaultEmbeddingDimensions = 1024

	defaultVectorProvider = "sqlite"
	defaultVectorTimeout  = 30 * time.Second

	defaultAPIListen = ":8082"

	defaultCacheSize = 1024
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Daemon: DaemonConfig{
			IdleTimeout:      Duration{daemon.DefaultIdleTimeout},
			ReadyTimeout:     Duration{client.DefaultReadyTimeout},
			RequestTimeout:   Duration{daemon.DefaultRequestTimeout},
			Concurrency:      daemon.DefaultConcurrency,
			MaxConnections:   daemon.DefaultMaxConnections,
			CacheSize:        defaultCacheSize,
			Metrics:          true,
			MetricsRetention: Duration{daemon.DefaultMetricsRetention},
		},
		Embedding: EmbeddingConfig{
			Provider:         defaultEmbeddingProvider,
			Target:           defaultEmbeddingTarget,
			Model:            defaultEmbeddingModel,
			Dimensions:       defaultEmbeddingDimensions,
			QueryInstruction: daemon.DefaultQueryInstruction,
		},
		VectorStore: VectorStoreConfig{
			Provider:   defaultVectorProvider,
			Collection: vector.DefaultCollection,
			Timeout:    Duration{defaultVectorTimeout},
		},
		Indexing: IndexingConfig{
			ChunkSize:       chunker.DefaultChunkSize,
			ChunkOverlap:    chunker.DefaultOverlap,
			BatchSize:       batch.DefaultBatchSize,
			MaxFileSize:     local.DefaultMaxFileSize,
			MinContentChars: indexer.DefaultMinContentChars,
			Exclude:         append([]string(nil), local.DefaultExclude...),
		},
		Search: SearchConfig{
			DefaultLimit: vector.DefaultLimit,
		},
		Retry: RetryConfig{
			MaxAttempts:  retry.DefaultMaxAttempts,
			InitialDelay: Duration{retry.DefaultInitialDelay},
			MaxDelay:     Duration{retry.DefaultMaxDelay},
			Multiplier:   retry.DefaultMultiplier,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Events: EventsConfig{
			Provider: eventstreamutils.ProviderNop,
			Topic:    kafka.DefaultTopic,
		},
	}
}

// RetryPolicy converts the retry section into a retry.Policy.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.Retry.MaxAttempts > 0 {
		p.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.InitialDelay.Duration > 0 {
		p.InitialDelay = c.Retry.InitialDelay.Duration
	}
	if c.Retry.MaxDelay.Duration > 0 {
		p.MaxDelay = c.Retry.MaxDelay.Duration
	}
	if c.Retry.Multiplier >= 1 {
		p.Multiplier = c.Retry.Multiplier
	}
	return p
}
