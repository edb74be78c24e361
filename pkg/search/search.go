// Package search answers natural language queries against the vector store
// and reports the health of the search stack.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/papercomputeco/semsearch/pkg/document"
	"github.com/papercomputeco/semsearch/pkg/ipc"
	"github.com/papercomputeco/semsearch/pkg/logger"
	"github.com/papercomputeco/semsearch/pkg/metrics"
	"github.com/papercomputeco/semsearch/pkg/vector"
)

// ErrEmptyQuery is returned for a blank query text.
var ErrEmptyQuery = errors.New("search query is empty")

const DefaultSnippetLength = 200

// QueryEmbedder embeds search queries. *client.Client implements it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DaemonStatuser reports daemon status without starting one.
// *client.Client implements it.
type DaemonStatuser interface {
	Status(ctx context.Context) (*ipc.Response, error)
}

type Config struct {
	Embedder QueryEmbedder
	Store    vector.Store

	// StoreTimeout bounds each store call. Zero leaves them bounded only by
	// the caller's context.
	StoreTimeout time.Duration

	// Daemon is optional; without it Status reports the daemon as unknown.
	Daemon DaemonStatuser

	DefaultLimit    int
	DefaultMinScore *float32

	// SnippetLength caps snippets in runes. Defaults to 200.
	SnippetLength int

	Logger *slog.Logger
}

// Request is one search.
type Request struct {
	Text        string   `json:"query"`
	Limit       int      `json:"limit,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	SourceKinds []string `json:"sources,omitempty"`
	MinScore    *float32 `json:"min_score,omitempty"`
}

// Hit is one ranked result.
type Hit struct {
	ChunkID    string   `json:"chunk_id"`
	DocumentID string   `json:"document_id"`
	Score      float32  `json:"score"`
	Location   string   `json:"location"`
	Title      string   `json:"title,omitempty"`
	SourceKind string   `json:"source_kind"`
	URL        string   `json:"url,omitempty"`
	Tags       []string `json:"tags"`
	Snippet    string   `json:"snippet"`
	Content    string   `json:"content"`
	LineStart  int      `json:"line_start,omitempty"`
	LineEnd    int      `json:"line_end,omitempty"`
}

// Results is the answer to a Request.
type Results struct {
	Query      string `json:"query"`
	Hits       []Hit  `json:"results"`
	Total      int    `json:"total"`
	DurationMs int64  `json:"duration_ms"`
}

// Service runs searches.
type Service struct {
	embedder        QueryEmbedder
	store           vector.Store
	daemon          DaemonStatuser
	defaultLimit    int
	defaultMinScore *float32
	snippetLength   int
	logger          *slog.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("search service requires a query embedder")
	}
	if cfg.Store == nil {
		return nil, errors.New("search service requires a vector store")
	}

	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = vector.DefaultLimit
	}
	snippet := cfg.SnippetLength
	if snippet <= 0 {
		snippet = DefaultSnippetLength
	}

	return &Service{
		embedder:        cfg.Embedder,
		store:           vector.WithTimeout(cfg.Store, cfg.StoreTimeout),
		daemon:          cfg.Daemon,
		defaultLimit:    limit,
		defaultMinScore: cfg.DefaultMinScore,
		snippetLength:   snippet,
		logger:          logger.OrNop(cfg.Logger),
	}, nil
}

// Search embeds the query text and returns the best matching chunks.
// Tags must all be present on a hit; source kinds are alternatives.
func (s *Service) Search(ctx context.Context, req Request) (*Results, error) {
	start := time.Now()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}

	tags, err := document.ParseTagList(req.Tags)
	if err != nil {
		return nil, err
	}

	kinds := make([]string, 0, len(req.SourceKinds))
	for _, k := range req.SourceKinds {
		if kind := document.ParseSourceKind(k); kind != "" {
			kinds = append(kinds, kind.String())
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	minScore := req.MinScore
	if minScore == nil {
		minScore = s.defaultMinScore
	}

	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := s.store.Search(ctx, vector.Query{
		Vector:      vec,
		Limit:       limit,
		Tags:        document.TagStrings(tags),
		SourceKinds: kinds,
		MinScore:    minScore,
	})
	if err != nil {
		return nil, fmt.Errorf("searching vector store: %w", err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = s.hit(r)
	}

	out := &Results{
		Query:      text,
		Hits:       hits,
		Total:      len(hits),
		DurationMs: time.Since(start).Milliseconds(),
	}
	s.logger.Debug("search complete",
		"query", text,
		"results", out.Total,
		"duration_ms", out.DurationMs,
	)
	return out, nil
}

func (s *Service) hit(r vector.Result) Hit {
	tags := r.Payload.Tags
	if tags == nil {
		tags = []string{}
	}
	return Hit{
		ChunkID:    r.ID,
		DocumentID: r.Payload.DocumentID,
		Score:      r.Score,
		Location:   r.Location(),
		Title:      r.Payload.Title,
		SourceKind: r.Payload.SourceKind,
		URL:        r.Payload.SourceURL,
		Tags:       tags,
		Snippet:    Snippet(r.Payload.Content, s.snippetLength),
		Content:    r.Payload.Content,
		LineStart:  r.Payload.LineStart,
		LineEnd:    r.Payload.LineEnd,
	}
}

// Snippet returns the first max runes of content, trimmed, with an
// ellipsis when it was cut.
func Snippet(content string, max int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return strings.TrimRightFunc(string(runes[:max]), isSpace) + "..."
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// DaemonStatus describes the embedding daemon as seen by a client.
type DaemonStatus struct {
	Running        bool             `json:"running"`
	State          string           `json:"state,omitempty"`
	ModelID        string           `json:"model_id,omitempty"`
	Dimensions     int              `json:"dimensions,omitempty"`
	PID            int              `json:"pid,omitempty"`
	UptimeSecs     uint64           `json:"uptime_secs,omitempty"`
	IdleSecs       uint64           `json:"idle_secs,omitempty"`
	IdleTimeout    uint64           `json:"idle_timeout_secs,omitempty"`
	RequestsServed uint64           `json:"requests_served,omitempty"`
	Metrics        *metrics.Summary `json:"metrics,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// StoreStatus describes the vector store.
type StoreStatus struct {
	Connected bool                   `json:"connected"`
	Points    uint64                 `json:"points"`
	Info      *vector.CollectionInfo `json:"info,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Status is the reachability of both halves of the search stack.
type Status struct {
	Daemon DaemonStatus `json:"daemon"`
	Store  StoreStatus  `json:"store"`
}

// Healthy reports whether the daemon is running and the store connected.
func (s Status) Healthy() bool {
	return s.Daemon.Running && s.Store.Connected
}

// Status checks the daemon and the store. It never starts a daemon and
// reports failures in the returned Status rather than as an error.
func (s *Service) Status(ctx context.Context) Status {
	return Status{
		Daemon: DaemonStatusOf(ctx, s.daemon),
		Store:  StoreStatusOf(ctx, s.store),
	}
}

// DaemonStatusOf queries d, which may be nil.
func DaemonStatusOf(ctx context.Context, d DaemonStatuser) DaemonStatus {
	if d == nil {
		return DaemonStatus{Error: "no daemon client configured"}
	}
	resp, err := d.Status(ctx)
	if err != nil {
		return DaemonStatus{Error: err.Error()}
	}
	return DaemonStatus{
		Running:        true,
		State:          resp.Status,
		ModelID:        resp.ModelID,
		Dimensions:     resp.Dimensions,
		PID:            resp.PID,
		UptimeSecs:     resp.UptimeSecs,
		IdleSecs:       resp.IdleSecs,
		IdleTimeout:    resp.IdleTimeout,
		RequestsServed: resp.RequestsServed,
		Metrics:        resp.Metrics,
	}
}

// StoreStatusOf checks store health and reads its collection info.
func StoreStatusOf(ctx context.Context, store vector.Store) StoreStatus {
	if err := store.Health(ctx); err != nil {
		return StoreStatus{Error: err.Error()}
	}
	info, err := store.CollectionInfo(ctx)
	if err != nil {
		return StoreStatus{Connected: true, Error: err.Error()}
	}
	return StoreStatus{Connected: true, Points: info.Points, Info: &info}
}
