package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent semsearch configuration stored as
// config.toml in the .semsearch/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Daemon      DaemonConfig      `toml:"daemon"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Indexing    IndexingConfig    `toml:"indexing"`
	Search      SearchConfig      `toml:"search"`
	Retry       RetryConfig       `toml:"retry"`
	API         APIConfig         `toml:"api"`
	Events      EventsConfig      `toml:"events"`
}

// Duration is a time.Duration written to TOML as a string such as "600s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// DaemonConfig holds embedding daemon settings.
type DaemonConfig struct {
	IdleTimeout      Duration `toml:"idle_timeout"`
	ReadyTimeout     Duration `toml:"ready_timeout"`
	RequestTimeout   Duration `toml:"request_timeout"`
	Concurrency      int      `toml:"concurrency,omitempty"`
	MaxConnections   int      `toml:"max_connections,omitempty"`
	CacheSize        int      `toml:"cache_size,omitempty"`
	Metrics          bool     `toml:"metrics"`
	MetricsRetention Duration `toml:"metrics_retention"`
}

// EmbeddingConfig holds embedding model runtime settings.
type EmbeddingConfig struct {
	Provider         string `toml:"provider,omitempty"`
	Target           string `toml:"target,omitempty"`
	Model            string `toml:"model,omitempty"`
	Dimensions       uint   `toml:"dimensions,omitempty"`
	APIKey           string `toml:"api_key,omitempty"`
	QueryInstruction string `toml:"query_instruction,omitempty"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	Provider string `toml:"provider,omitempty"`

	// Target is the sqlite path, postgres DSN or qdrant host:port.
	Target     string   `toml:"target,omitempty"`
	Collection string   `toml:"collection,omitempty"`
	APIKey     string   `toml:"api_key,omitempty"`
	Timeout    Duration `toml:"timeout"`
}

// IndexingConfig holds chunking and batching settings.
type IndexingConfig struct {
	ChunkSize       int      `toml:"chunk_size,omitempty"`
	ChunkOverlap    int      `toml:"chunk_overlap,omitempty"`
	BatchSize       int      `toml:"batch_size,omitempty"`
	MaxFileSize     int64    `toml:"max_file_size,omitempty"`
	MinContentChars int      `toml:"min_content_chars,omitempty"`
	Pipelined       bool     `toml:"pipelined"`
	Exclude         []string `toml:"exclude,omitempty"`
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	DefaultLimit int     `toml:"default_limit,omitempty"`
	MinScore     float64 `toml:"min_score,omitempty"`
}

// RetryConfig is the backoff policy shared by the daemon client and the
// batch processor.
type RetryConfig struct {
	MaxAttempts  int      `toml:"max_attempts,omitempty"`
	InitialDelay Duration `toml:"initial_delay"`
	MaxDelay     Duration `toml:"max_delay"`
	Multiplier   float64  `toml:"multiplier,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// EventsConfig selects where index events are published.
type EventsConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func intKey(key string, field func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*field(c) = n
			return nil
		},
	}
}

func boolKey(key string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*field(c) = b
			return nil
		},
	}
}

func floatKey(key string, field func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatFloat(*field(c), 'g', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*field(c) = f
			return nil
		},
	}
}

func durationKey(key string, field func(c *Config) *Duration) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return field(c).String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			field(c).Duration = d
			return nil
		},
	}
}

// listKey reads and writes a list as comma separated values.
func listKey(field func(c *Config) *[]string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strings.Join(*field(c), ",") },
		set: func(c *Config, v string) error {
			var items []string
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
			*field(c) = items
			return nil
		},
	}
}

// orderedKeys is the authoritative list of supported config keys, in the
// order of the TOML section layout.
var orderedKeys = []string{
	"daemon.idle_timeout",
	"daemon.ready_timeout",
	"daemon.request_timeout",
	"daemon.concurrency",
	"daemon.max_connections",
	"daemon.cache_size",
	"daemon.metrics",
	"daemon.metrics_retention",
	"embedding.provider",
	"embedding.target",
	"embedding.model",
	"embedding.dimensions",
	"embedding.api_key",
	"embedding.query_instruction",
	"vector_store.provider",
	"vector_store.target",
	"vector_store.collection",
	"vector_store.api_key",
	"vector_store.timeout",
	"indexing.chunk_size",
	"indexing.chunk_overlap",
	"indexing.batch_size",
	"indexing.max_file_size",
	"indexing.min_content_chars",
	"indexing.pipelined",
	"indexing.exclude",
	"search.default_limit",
	"search.min_score",
	"retry.max_attempts",
	"retry.initial_delay",
	"retry.max_delay",
	"retry.multiplier",
	"api.listen",
	"events.provider",
	"events.brokers",
	"events.topic",
}

// configKeys maps every supported dotted key to its accessor.
var configKeys = map[string]configKeyInfo{
	"daemon.idle_timeout":      durationKey("daemon.idle_timeout", func(c *Config) *Duration { return &c.Daemon.IdleTimeout }),
	"daemon.ready_timeout":     durationKey("daemon.ready_timeout", func(c *Config) *Duration { return &c.Daemon.ReadyTimeout }),
	"daemon.request_timeout":   durationKey("daemon.request_timeout", func(c *Config) *Duration { return &c.Daemon.RequestTimeout }),
	"daemon.concurrency":       intKey("daemon.concurrency", func(c *Config) *int { return &c.Daemon.Concurrency }),
	"daemon.max_connections":   intKey("daemon.max_connections", func(c *Config) *int { return &c.Daemon.MaxConnections }),
	"daemon.cache_size":        intKey("daemon.cache_size", func(c *Config) *int { return &c.Daemon.CacheSize }),
	"daemon.metrics":           boolKey("daemon.metrics", func(c *Config) *bool { return &c.Daemon.Metrics }),
	"daemon.metrics_retention": durationKey("daemon.metrics_retention", func(c *Config) *Duration { return &c.Daemon.MetricsRetention }),

	"embedding.provider":          stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":            stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":             stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.api_key":           stringKey(func(c *Config) *string { return &c.Embedding.APIKey }),
	"embedding.query_instruction": stringKey(func(c *Config) *string { return &c.Embedding.QueryInstruction }),
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},

	"vector_store.provider":   stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":     stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.collection": stringKey(func(c *Config) *string { return &c.VectorStore.Collection }),
	"vector_store.api_key":    stringKey(func(c *Config) *string { return &c.VectorStore.APIKey }),
	"vector_store.timeout":    durationKey("vector_store.timeout", func(c *Config) *Duration { return &c.VectorStore.Timeout }),

	"indexing.chunk_size":        intKey("indexing.chunk_size", func(c *Config) *int { return &c.Indexing.ChunkSize }),
	"indexing.chunk_overlap":     intKey("indexing.chunk_overlap", func(c *Config) *int { return &c.Indexing.ChunkOverlap }),
	"indexing.batch_size":        intKey("indexing.batch_size", func(c *Config) *int { return &c.Indexing.BatchSize }),
	"indexing.min_content_chars": intKey("indexing.min_content_chars", func(c *Config) *int { return &c.Indexing.MinContentChars }),
	"indexing.pipelined":         boolKey("indexing.pipelined", func(c *Config) *bool { return &c.Indexing.Pipelined }),
	"indexing.exclude":           listKey(func(c *Config) *[]string { return &c.Indexing.Exclude }),
	"indexing.max_file_size": {
		get: func(c *Config) string { return strconv.FormatInt(c.Indexing.MaxFileSize, 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for indexing.max_file_size: %w", err)
			}
			c.Indexing.MaxFileSize = n
			return nil
		},
	},

	"search.default_limit": intKey("search.default_limit", func(c *Config) *int { return &c.Search.DefaultLimit }),
	"search.min_score":     floatKey("search.min_score", func(c *Config) *float64 { return &c.Search.MinScore }),

	"retry.max_attempts":  intKey("retry.max_attempts", func(c *Config) *int { return &c.Retry.MaxAttempts }),
	"retry.initial_delay": durationKey("retry.initial_delay", func(c *Config) *Duration { return &c.Retry.InitialDelay }),
	"retry.max_delay":     durationKey("retry.max_delay", func(c *Config) *Duration { return &c.Retry.MaxDelay }),
	"retry.multiplier":    floatKey("retry.multiplier", func(c *Config) *float64 { return &c.Retry.Multiplier }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),

	"events.provider": stringKey(func(c *Config) *string { return &c.Events.Provider }),
	"events.brokers":  listKey(func(c *Config) *[]string { return &c.Events.Brokers }),
	"events.topic":    stringKey(func(c *Config) *string { return &c.Events.Topic }),
}
