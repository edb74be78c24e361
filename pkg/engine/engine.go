// Package engine assembles the daemon client, vector store, search service
// and indexer from a loaded configuration. Commands and the API server share
// it so every surface wires the same components the same way.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/papercomputeco/semsearch/pkg/batch"
	"github.com/papercomputeco/semsearch/pkg/chunker"
	"github.com/papercomputeco/semsearch/pkg/client"
	"github.com/papercomputeco/semsearch/pkg/config"
	"github.com/papercomputeco/semsearch/pkg/document"
	"github.com/papercomputeco/semsearch/pkg/eventstream"
	eventstreamutils "github.com/papercomputeco/semsearch/pkg/eventstream/utils"
	"github.com/papercomputeco/semsearch/pkg/indexer"
	"github.com/papercomputeco/semsearch/pkg/lifecycle"
	"github.com/papercomputeco/semsearch/pkg/logger"
	"github.com/papercomputeco/semsearch/pkg/search"
	"github.com/papercomputeco/semsearch/pkg/source/local"
	"github.com/papercomputeco/semsearch/pkg/vector"
	vectorutils "github.com/papercomputeco/semsearch/pkg/vector/utils"
)

// SQLiteFileName is the default sqlite vector database inside the
// semsearch directory.
const SQLiteFileName = "vectors.db"

// Embedder embeds both documents and queries. The daemon client is the
// production implementation.
type Embedder interface {
	batch.Embedder
	search.QueryEmbedder
}

type Options struct {
	Config *config.Config

	// Lifecycle locates the daemon socket and state. Required.
	Lifecycle *lifecycle.Manager

	// NoSpawn makes the client fail instead of starting a daemon.
	NoSpawn bool

	// Spawner overrides how a missing daemon is started.
	Spawner client.Spawner

	// Embedder overrides the daemon client for embedding, mostly for tests.
	Embedder Embedder

	Logger *slog.Logger
}

// Engine lazily opens the vector store and event publisher on first use and
// closes everything it opened in Close.
type Engine struct {
	cfg      *config.Config
	lm       *lifecycle.Manager
	client   *client.Client
	embedder Embedder
	logger   *slog.Logger

	mu        sync.Mutex
	store     vector.Store
	publisher eventstream.Publisher
}

func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, errors.New("engine requires a config")
	}
	if opts.Lifecycle == nil {
		return nil, errors.New("engine requires a lifecycle manager")
	}

	log := logger.OrNop(opts.Logger)
	cfg := opts.Config

	c, err := client.New(client.Config{
		Lifecycle:      opts.Lifecycle,
		Spawner:        opts.Spawner,
		NoSpawn:        opts.NoSpawn,
		ReadyTimeout:   cfg.Daemon.ReadyTimeout.Duration,
		RequestTimeout: cfg.Daemon.RequestTimeout.Duration,
		Retry:          cfg.RetryPolicy(),
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating daemon client: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		lm:       opts.Lifecycle,
		client:   c,
		embedder: opts.Embedder,
		logger:   log,
	}
	if e.embedder == nil {
		e.embedder = c
	}
	return e, nil
}

func (e *Engine) Config() *config.Config { return e.cfg }

func (e *Engine) Lifecycle() *lifecycle.Manager { return e.lm }

func (e *Engine) Client() *client.Client { return e.client }

// StoreTarget resolves the configured store target. An empty sqlite target
// means the database inside the semsearch directory.
func (e *Engine) StoreTarget() string {
	target := e.cfg.VectorStore.Target
	if target == "" && e.cfg.VectorStore.Provider == vectorutils.ProviderSQLite {
		target = filepath.Join(e.lm.Dir, SQLiteFileName)
	}
	return target
}

// WithStoreTimeout bounds ctx by the configured vector store timeout.
func (e *Engine) WithStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := e.cfg.VectorStore.Timeout.Duration; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// Store opens the configured vector store, once.
func (e *Engine) Store(ctx context.Context) (vector.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store != nil {
		return e.store, nil
	}

	ctx, cancel := e.WithStoreTimeout(ctx)
	defer cancel()

	store, err := vectorutils.NewVectorStore(ctx, &vectorutils.NewVectorStoreOpts{
		ProviderType: e.cfg.VectorStore.Provider,
		Target:       e.StoreTarget(),
		Collection:   e.cfg.VectorStore.Collection,
		Dimensions:   int(e.cfg.Embedding.Dimensions),
		APIKey:       e.cfg.VectorStore.APIKey,
		Logger:       e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	e.logger.Debug("opened vector store",
		"provider", e.cfg.VectorStore.Provider,
		"collection", e.cfg.VectorStore.Collection,
	)
	e.store = store
	return store, nil
}

func (e *Engine) eventPublisher() (eventstream.Publisher, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.publisher != nil {
		return e.publisher, nil
	}

	pub, err := eventstreamutils.NewPublisher(eventstreamutils.NewPublisherOpts{
		ProviderType: e.cfg.Events.Provider,
		Brokers:      e.cfg.Events.Brokers,
		Topic:        e.cfg.Events.Topic,
		Logger:       e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating event publisher: %w", err)
	}
	e.publisher = pub
	return pub, nil
}

// Search builds a search service over the store. It never starts the
// daemon until a query is embedded.
func (e *Engine) Search(ctx context.Context) (*search.Service, error) {
	store, err := e.Store(ctx)
	if err != nil {
		return nil, err
	}

	var minScore *float32
	if e.cfg.Search.MinScore > 0 {
		score := float32(e.cfg.Search.MinScore)
		minScore = &score
	}

	return search.NewService(search.Config{
		Embedder:        e.embedder,
		Store:           store,
		Daemon:          e.client,
		DefaultLimit:    e.cfg.Search.DefaultLimit,
		DefaultMinScore: minScore,
		StoreTimeout:    e.cfg.VectorStore.Timeout.Duration,
		Logger:          e.logger,
	})
}

// Indexer builds an indexer that chunks with the configured sizes and
// stores through the batch processor.
func (e *Engine) Indexer(ctx context.Context, reindex bool, progress batch.Progress) (*indexer.Indexer, error) {
	store, err := e.Store(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := e.eventPublisher()
	if err != nil {
		return nil, err
	}

	ch, err := chunker.New(
		chunker.WithChunkSize(e.cfg.Indexing.ChunkSize),
		chunker.WithOverlap(e.cfg.Indexing.ChunkOverlap),
	)
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}

	proc, err := batch.New(batch.Config{
		Embedder:     e.embedder,
		Store:        store,
		BatchSize:    e.cfg.Indexing.BatchSize,
		StoreTimeout: e.cfg.VectorStore.Timeout.Duration,
		Retry:        e.cfg.RetryPolicy(),
		Pipelined:    e.cfg.Indexing.Pipelined,
		Publisher:    pub,
		Progress:     progress,
		Logger:       e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating batch processor: %w", err)
	}

	return indexer.New(indexer.Config{
		Chunker:         ch,
		Processor:       proc,
		Store:           vector.WithTimeout(store, e.cfg.VectorStore.Timeout.Duration),
		MinContentChars: e.cfg.Indexing.MinContentChars,
		Reindex:         reindex,
		Logger:          e.logger,
	})
}

// Source builds a local source over root. Extra exclude patterns are
// added to the configured ones.
func (e *Engine) Source(root string, exclude []string, tags []document.Tag) (*local.Source, error) {
	patterns := append(append([]string(nil), e.cfg.Indexing.Exclude...), exclude...)
	return local.New(local.Config{
		Root:        root,
		Exclude:     patterns,
		MaxFileSize: e.cfg.Indexing.MaxFileSize,
		Tags:        tags,
		Logger:      e.logger,
	})
}

// Close releases the client, store and publisher. It never stops the
// daemon.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.publisher != nil {
		errs = append(errs, e.publisher.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	errs = append(errs, e.client.Close())
	return errors.Join(errs...)
}
