package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/semsearch/pkg/dotdir"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "SEMSEARCH"

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the SEMSEARCH_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (SEMSEARCH_VECTOR_STORE_PROVIDER, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: SEMSEARCH_DAEMON_IDLE_TIMEOUT, etc.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Daemon
	v.SetDefault("daemon.idle_timeout", d.Daemon.IdleTimeout.Duration)
	v.SetDefault("daemon.ready_timeout", d.Daemon.ReadyTimeout.Duration)
	v.SetDefault("daemon.request_timeout", d.Daemon.RequestTimeout.Duration)
	v.SetDefault("daemon.concurrency", d.Daemon.Concurrency)
	v.SetDefault("daemon.max_connections", d.Daemon.MaxConnections)
	v.SetDefault("daemon.cache_size", d.Daemon.CacheSize)
	v.SetDefault("daemon.metrics", d.Daemon.Metrics)
	v.SetDefault("daemon.metrics_retention", d.Daemon.MetricsRetention.Duration)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)
	v.SetDefault("embedding.query_instruction", d.Embedding.QueryInstruction)

	// Vector store
	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.target", d.VectorStore.Target)
	v.SetDefault("vector_store.collection", d.VectorStore.Collection)
	v.SetDefault("vector_store.api_key", d.VectorStore.APIKey)
	v.SetDefault("vector_store.timeout", d.VectorStore.Timeout.Duration)

	// Indexing
	v.SetDefault("indexing.chunk_size", d.Indexing.ChunkSize)
	v.SetDefault("indexing.chunk_overlap", d.Indexing.ChunkOverlap)
	v.SetDefault("indexing.batch_size", d.Indexing.BatchSize)
	v.SetDefault("indexing.max_file_size", d.Indexing.MaxFileSize)
	v.SetDefault("indexing.min_content_chars", d.Indexing.MinContentChars)
	v.SetDefault("indexing.pipelined", d.Indexing.Pipelined)
	v.SetDefault("indexing.exclude", d.Indexing.Exclude)

	// Search
	v.SetDefault("search.default_limit", d.Search.DefaultLimit)
	v.SetDefault("search.min_score", d.Search.MinScore)

	// Retry
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_delay", d.Retry.InitialDelay.Duration)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay.Duration)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Events
	v.SetDefault("events.provider", d.Events.Provider)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)
}

// FromViper assembles a Config from the resolved viper values, so flags and
// environment overrides are applied on top of the file and defaults.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Version: v.GetInt("version"),
		Daemon: DaemonConfig{
			IdleTimeout:      Duration{v.GetDuration("daemon.idle_timeout")},
			ReadyTimeout:     Duration{v.GetDuration("daemon.ready_timeout")},
			RequestTimeout:   Duration{v.GetDuration("daemon.request_timeout")},
			Concurrency:      v.GetInt("daemon.concurrency"),
			MaxConnections:   v.GetInt("daemon.max_connections"),
			CacheSize:        v.GetInt("daemon.cache_size"),
			Metrics:          v.GetBool("daemon.metrics"),
			MetricsRetention: Duration{v.GetDuration("daemon.metrics_retention")},
		},
		Embedding: EmbeddingConfig{
			Provider:         v.GetString("embedding.provider"),
			Target:           v.GetString("embedding.target"),
			Model:            v.GetString("embedding.model"),
			Dimensions:       v.GetUint("embedding.dimensions"),
			APIKey:           v.GetString("embedding.api_key"),
			QueryInstruction: v.GetString("embedding.query_instruction"),
		},
		VectorStore: VectorStoreConfig{
			Provider:   v.GetString("vector_store.provider"),
			Target:     v.GetString("vector_store.target"),
			Collection: v.GetString("vector_store.collection"),
			APIKey:     v.GetString("vector_store.api_key"),
			Timeout:    Duration{v.GetDuration("vector_store.timeout")},
		},
		Indexing: IndexingConfig{
			ChunkSize:       v.GetInt("indexing.chunk_size"),
			ChunkOverlap:    v.GetInt("indexing.chunk_overlap"),
			BatchSize:       v.GetInt("indexing.batch_size"),
			MaxFileSize:     v.GetInt64("indexing.max_file_size"),
			MinContentChars: v.GetInt("indexing.min_content_chars"),
			Pipelined:       v.GetBool("indexing.pipelined"),
			Exclude:         v.GetStringSlice("indexing.exclude"),
		},
		Search: SearchConfig{
			DefaultLimit: v.GetInt("search.default_limit"),
			MinScore:     v.GetFloat64("search.min_score"),
		},
		Retry: RetryConfig{
			MaxAttempts:  v.GetInt("retry.max_attempts"),
			InitialDelay: Duration{v.GetDuration("retry.initial_delay")},
			MaxDelay:     Duration{v.GetDuration("retry.max_delay")},
			Multiplier:   v.GetFloat64("retry.multiplier"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
		Events: EventsConfig{
			Provider: v.GetString("events.provider"),
			Brokers:  v.GetStringSlice("events.brokers"),
			Topic:    v.GetString("events.topic"),
		},
	}
}
