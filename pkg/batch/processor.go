// Package batch turns chunks into stored points: it embeds them in bounded
// sub-batches through the daemon client and upserts each sub-batch into the
// vector store, recording failures per chunk instead of aborting the run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/semsearch/pkg/client"
	"github.com/papercomputeco/semsearch/pkg/document"
	"github.com/papercomputeco/semsearch/pkg/eventstream"
	"github.com/papercomputeco/semsearch/pkg/eventstream/nop"
	"github.com/papercomputeco/semsearch/pkg/logger"
	"github.com/papercomputeco/semsearch/pkg/retry"
	"github.com/papercomputeco/semsearch/pkg/vector"
)

// DefaultBatchSize is the number of chunks embedded per request.
const DefaultBatchSize = 8

// Embedder produces document embeddings. *client.Client implements it.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Progress is called after every sub-batch with the chunks handled so far.
type Progress func(done, total int)

// Config configures a Processor.
type Config struct {
	Embedder  Embedder
	Store     vector.Store
	BatchSize int

	// StoreTimeout bounds each upsert. Zero leaves upserts bounded only by
	// the caller's context.
	StoreTimeout time.Duration

	// Retry governs both the embed and the upsert of a sub-batch. Zero
	// value selects retry.DefaultPolicy.
	Retry retry.Policy

	// Pipelined overlaps embedding of the next sub-batch with the upsert of
	// the current one. Upserts stay in submission order.
	Pipelined bool

	Publisher eventstream.Publisher
	Progress  Progress
	Logger    *slog.Logger
}

// Processor runs chunks through embed and upsert.
type Processor struct {
	embedder  Embedder
	store     vector.Store
	size      int
	policy    retry.Policy
	pipelined bool
	publisher eventstream.Publisher
	progress  Progress
	logger    *slog.Logger
}

func New(cfg Config) (*Processor, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("batch processor requires an embedder")
	}
	if cfg.Store == nil {
		return nil, errors.New("batch processor requires a vector store")
	}

	size := cfg.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = nop.NewPublisher()
	}

	return &Processor{
		embedder:  cfg.Embedder,
		store:     vector.WithTimeout(cfg.Store, cfg.StoreTimeout),
		size:      size,
		policy:    policy,
		pipelined: cfg.Pipelined,
		publisher: publisher,
		progress:  cfg.Progress,
		logger:    logger.OrNop(cfg.Logger),
	}, nil
}

type subBatch struct {
	index  int
	chunks []document.Chunk
}

type embedded struct {
	batch   subBatch
	vectors [][]float32
	err     error
}

func partition(chunks []document.Chunk, size int) []subBatch {
	batches := make([]subBatch, 0, (len(chunks)+size-1)/size)
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		batches = append(batches, subBatch{index: len(batches), chunks: chunks[start:end]})
	}
	return batches
}

// Process embeds and stores chunks in sub-batches of the configured size, in
// order. A sub-batch that still fails after retries is recorded in the
// report and processing moves on. When ctx ends the report so far is
// returned with ctx's error; sub-batches already upserted stay stored. A
// daemon that dies during startup stops the run: the remaining chunks are
// recorded as failed and the error is returned.
func (p *Processor) Process(ctx context.Context, chunks []document.Chunk) (*Report, error) {
	start := time.Now()
	runID := uuid.NewString()
	report := &Report{Total: len(chunks)}

	batches := partition(chunks, p.size)
	p.logger.Debug("processing chunks",
		"run_id", runID,
		"chunks", len(chunks),
		"batches", len(batches),
		"batch_size", p.size,
		"pipelined", p.pipelined,
	)

	next, drain := p.embeddings(ctx, batches)
	defer drain()

	var runErr, fatal error
	last := -1
	done := 0
	for {
		res, ok := next()
		if !ok {
			break
		}
		if res.err != nil && ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}

		if res.err == nil {
			res.err = p.upsert(ctx, res.batch, res.vectors)
			if res.err != nil && ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
		}

		last = res.batch.index
		if res.err != nil {
			p.fail(report, res.batch, res.err)
			if errors.Is(res.err, client.ErrDaemonExited) {
				fatal = res.err
			}
		} else {
			report.Stored += len(res.batch.chunks)
			p.emitBatch(ctx, runID, res.batch, time.Since(start))
		}
		report.Batches++

		done += len(res.batch.chunks)
		if p.progress != nil {
			p.progress(done, len(chunks))
		}
		if fatal != nil {
			break
		}
	}

	if fatal != nil {
		for _, b := range batches[last+1:] {
			p.fail(report, b, fatal)
		}
	}

	if runErr == nil && ctx.Err() != nil && report.Batches < len(batches) {
		runErr = ctx.Err()
	}
	report.Cancelled = runErr != nil
	report.Duration = time.Since(start)

	p.emitCompleted(runID, report)
	p.logger.Info("batch run finished",
		"run_id", runID,
		"total", report.Total,
		"stored", report.Stored,
		"failed", len(report.Failed),
		"cancelled", report.Cancelled,
		"duration", report.Duration,
	)
	if fatal != nil {
		return report, fatal
	}
	return report, runErr
}

// embeddings returns an iterator over embedded sub-batches in order and a
// func that releases it. Sequential mode embeds a sub-batch only when asked
// for it. Pipelined mode embeds the next sub-batch while the caller stores
// the current one.
func (p *Processor) embeddings(ctx context.Context, batches []subBatch) (func() (embedded, bool), func()) {
	if !p.pipelined {
		i := 0
		return func() (embedded, bool) {
			if i >= len(batches) {
				return embedded{}, false
			}
			b := batches[i]
			i++
			vecs, err := p.embed(ctx, b)
			return embedded{batch: b, vectors: vecs, err: err}, true
		}, func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan embedded)
	go func() {
		defer close(out)
		for _, b := range batches {
			vecs, err := p.embed(ctx, b)
			select {
			case out <- embedded{batch: b, vectors: vecs, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()

	next := func() (embedded, bool) {
		res, ok := <-out
		return res, ok
	}
	release := func() {
		cancel()
		for range out {
		}
	}
	return next, release
}

func (p *Processor) embed(ctx context.Context, b subBatch) ([][]float32, error) {
	texts := make([]string, len(b.chunks))
	for i, c := range b.chunks {
		texts[i] = c.Content
	}

	return retry.DoValue(ctx, p.policy, func(ctx context.Context) ([][]float32, error) {
		vecs, err := p.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, classify(err)
		}
		if len(vecs) != len(texts) {
			return nil, retry.Permanent(fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(texts)))
		}
		return vecs, nil
	}, p.onRetry("embed", b))
}

func (p *Processor) upsert(ctx context.Context, b subBatch, vecs [][]float32) error {
	points := make([]vector.Point, len(b.chunks))
	for i, c := range b.chunks {
		points[i] = vector.FromChunk(c, vecs[i])
	}

	return retry.Do(ctx, p.policy, func(ctx context.Context) error {
		return classify(p.store.Upsert(ctx, points))
	}, p.onRetry("upsert", b))
}

func (p *Processor) onRetry(stage string, b subBatch) retry.OnRetry {
	return func(attempt int, delay time.Duration, err error) {
		p.logger.Warn("retrying sub-batch",
			"stage", stage,
			"batch", b.index,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
}

// classify marks deterministic faults as permanent so they are not retried.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vector.ErrDimensionMismatch),
		errors.Is(err, vector.ErrInvalidPoint),
		errors.Is(err, client.ErrInvalidRequest),
		errors.Is(err, client.ErrInference),
		errors.Is(err, client.ErrDaemonExited):
		return retry.Permanent(err)
	default:
		return err
	}
}

func (p *Processor) fail(report *Report, b subBatch, err error) {
	p.logger.Error("sub-batch failed",
		"batch", b.index,
		"chunks", len(b.chunks),
		"error", err,
	)
	for _, c := range b.chunks {
		report.Failed = append(report.Failed, FailedChunk{ChunkID: c.ID, Reason: err.Error()})
	}
}

func (p *Processor) emitBatch(ctx context.Context, runID string, b subBatch, elapsed time.Duration) {
	chunkIDs := make([]string, len(b.chunks))
	var docIDs []string
	seen := map[string]bool{}
	for i, c := range b.chunks {
		chunkIDs[i] = c.ID
		if !seen[c.DocumentID] {
			seen[c.DocumentID] = true
			docIDs = append(docIDs, c.DocumentID)
		}
	}

	event := eventstream.NewBatchStoredEvent(runID, b.index, chunkIDs, docIDs, elapsed)
	if err := p.publisher.PublishBatchStored(ctx, event); err != nil {
		p.logger.Warn("publishing batch event failed", "batch", b.index, "error", err)
	}
}

func (p *Processor) emitCompleted(runID string, r *Report) {
	// The run's context may already be done; completion is still reported.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := eventstream.NewIndexCompletedEvent(runID, r.Total, r.Stored, r.Batches, r.eventFailures(), r.Duration)
	event.Cancelled = r.Cancelled
	if err := p.publisher.PublishIndexCompleted(ctx, event); err != nil {
		p.logger.Warn("publishing completion event failed", "error", err)
	}
}
