// Package qdrantvec provides a vector.Store backed by a Qdrant server over gRPC.
package qdrantvec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/semsearch/pkg/logger"
	"github.com/papercomputeco/semsearch/pkg/vector"
)

const (
	// DefaultPort is Qdrant's gRPC port.
	DefaultPort = 6334

	// tieWindow is how many extra candidates are fetched when the last result
	// of a page may share its score with points beyond the page.
	tieWindow = 64

	maxFacetTags = 10000
)

// Payload keys.
const (
	keyPointID        = "point_id"
	keySeq            = "seq"
	keyDocumentID     = "document_id"
	keyChunkIndex     = "chunk_index"
	keyContent        = "content"
	keySourceKind     = "source_kind"
	keySourceLocation = "source_location"
	keySourceURL      = "source_url"
	keyPath           = "path"
	keyTitle          = "title"
	keyTags           = "tags"
	keyLineStart      = "line_start"
	keyLineEnd        = "line_end"
	keyChecksum       = "checksum"
	keyCreatedAt      = "created_at"
)

// pointNamespace maps arbitrary point ids onto the UUIDs Qdrant requires.
var pointNamespace = uuid.MustParse("6f1c6b55-5b8e-4a53-9a57-0d8c3c1e9f00")

// Store implements vector.Store on Qdrant.
type Store struct {
	client     *qdrant.Client
	collection string
	dimensions int
	logger     *slog.Logger
}

// Config holds configuration for the Qdrant store.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// Collection defaults to vector.DefaultCollection.
	Collection string

	Dimensions int

	Logger *slog.Logger
}

// NewStore connects to Qdrant and ensures the collection exists with the
// configured dimensionality.
func NewStore(ctx context.Context, c Config) (*Store, error) {
	if c.Dimensions <= 0 {
		return nil, errors.New("qdrant embedding dimensions must be configured")
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Collection == "" {
		c.Collection = vector.DefaultCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   c.Host,
		Port:                   c.Port,
		APIKey:                 c.APIKey,
		UseTLS:                 c.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}

	s := &Store{
		client:     client,
		collection: c.Collection,
		dimensions: c.Dimensions,
		logger:     logger.OrNop(c.Logger),
	}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}

	s.logger.Info("qdrant vector store initialized",
		"host", c.Host,
		"port", c.Port,
		"collection", c.Collection,
		"dimensions", c.Dimensions,
	)
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("%w: checking collection: %v", vector.ErrConnection, err)
	}

	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return fmt.Errorf("%w: reading collection: %v", vector.ErrConnection, err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if int(size) != s.dimensions {
			return fmt.Errorf("%w: collection %s was created with %d dimensions, configured %d",
				vector.ErrDimensionMismatch, s.collection, size, s.dimensions)
		}
		return nil
	}

	if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return fmt.Errorf("%w: creating collection: %v", vector.ErrStorage, err)
	}

	for _, field := range []string{keyTags, keySourceKind, keyDocumentID} {
		if _, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			FieldName:      field,
			FieldType:      qdrant.PtrOf(qdrant.FieldType_FieldTypeKeyword),
		}); err != nil {
			return fmt.Errorf("%w: indexing %s: %v", vector.ErrStorage, field, err)
		}
	}
	return nil
}

// qdrantID maps id onto a Qdrant point id. UUIDs pass through unchanged.
func qdrantID(id string) *qdrant.PointId {
	if u, err := uuid.Parse(id); err == nil {
		return qdrant.NewID(u.String())
	}
	return qdrant.NewID(uuid.NewSHA1(pointNamespace, []byte(id)).String())
}

func payloadValues(id string, seq int64, p vector.Payload) map[string]*qdrant.Value {
	tags := vector.NormalizeSet(p.Tags)
	tagValues := make([]any, len(tags))
	for i, t := range tags {
		tagValues[i] = t
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return qdrant.NewValueMap(map[string]any{
		keyPointID:        id,
		keySeq:            seq,
		keyDocumentID:     p.DocumentID,
		keyChunkIndex:     p.ChunkIndex,
		keyContent:        p.Content,
		keySourceKind:     p.SourceKind,
		keySourceLocation: p.SourceLocation,
		keySourceURL:      p.SourceURL,
		keyPath:           p.Path,
		keyTitle:          p.Title,
		keyTags:           tagValues,
		keyLineStart:      p.LineStart,
		keyLineEnd:        p.LineEnd,
		keyChecksum:       p.Checksum,
		keyCreatedAt:      createdAt.Format(time.RFC3339Nano),
	})
}

func resultFrom(sp *qdrant.ScoredPoint) vector.Result {
	pl := sp.GetPayload()
	str := func(k string) string { return pl[k].GetStringValue() }
	num := func(k string) int { return int(pl[k].GetIntegerValue()) }

	tags := []string{}
	for _, v := range pl[keyTags].GetListValue().GetValues() {
		tags = append(tags, v.GetStringValue())
	}
	slices.Sort(tags)
	createdAt, _ := time.Parse(time.RFC3339Nano, str(keyCreatedAt))

	id := str(keyPointID)
	if id == "" {
		id = sp.GetId().GetUuid()
	}
	score := sp.GetScore()
	if math.IsNaN(float64(score)) {
		score = 0
	}

	return vector.Result{
		ID:    id,
		Score: score,
		Seq:   pl[keySeq].GetIntegerValue(),
		Payload: vector.Payload{
			DocumentID:     str(keyDocumentID),
			ChunkIndex:     num(keyChunkIndex),
			Content:        str(keyContent),
			SourceKind:     str(keySourceKind),
			SourceLocation: str(keySourceLocation),
			SourceURL:      str(keySourceURL),
			Path:           str(keyPath),
			Title:          str(keyTitle),
			Tags:           tags,
			LineStart:      num(keyLineStart),
			LineEnd:        num(keyLineEnd),
			Checksum:       str(keyChecksum),
			CreatedAt:      createdAt,
		},
	}
}

// Upsert writes points and waits for the operation to be applied.
func (s *Store) Upsert(ctx context.Context, points []vector.Point) error {
	if err := vector.Validate(points, s.dimensions); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	// Later duplicates within one batch win, matching sequential upserts.
	structs := make([]*qdrant.PointStruct, 0, len(points))
	index := make(map[string]int, len(points))
	for _, p := range points {
		ps := &qdrant.PointStruct{
			Id:      qdrantID(p.ID),
			Vectors: qdrant.NewVectorsDense(p.Vector),
			Payload: payloadValues(p.ID, vector.NextSeq(), p.Payload),
		}
		if i, ok := index[p.ID]; ok {
			structs[i] = ps
			continue
		}
		index[p.ID] = len(structs)
		structs = append(structs, ps)
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	}); err != nil {
		return fmt.Errorf("%w: upserting points: %v", vector.ErrStorage, err)
	}

	s.logger.Debug("upserted points to qdrant", "count", len(structs))
	return nil
}

func filterFor(tags, kinds []string) *qdrant.Filter {
	if len(tags) == 0 && len(kinds) == 0 {
		return nil
	}
	f := &qdrant.Filter{}
	for _, t := range tags {
		f.Must = append(f.Must, qdrant.NewMatchKeyword(keyTags, t))
	}
	if len(kinds) > 0 {
		f.Must = append(f.Must, qdrant.NewMatchKeywords(keySourceKind, kinds...))
	}
	return f
}

func (s *Store) query(ctx context.Context, q vector.Query, limit int, threshold *float32) ([]vector.Result, error) {
	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(q.Vector),
		Filter:         filterFor(q.Tags, q.SourceKinds),
		ScoreThreshold: threshold,
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: querying points: %v", vector.ErrStorage, err)
	}

	results := make([]vector.Result, 0, len(scored))
	for _, sp := range scored {
		r := resultFrom(sp)
		if !q.Passes(r.Score) {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

// Search runs a filtered nearest-neighbour query. Qdrant does not order equal
// scores, so when a page is full the candidates tied with its last score are
// fetched and ranked by upsert order.
func (s *Store) Search(ctx context.Context, q vector.Query) ([]vector.Result, error) {
	q, err := q.Normalize(s.dimensions)
	if err != nil {
		return nil, err
	}

	results, err := s.query(ctx, q, q.Limit, q.MinScore)
	if err != nil {
		return nil, err
	}

	if len(results) == q.Limit {
		floor := results[len(results)-1].Score
		if q.MinScore != nil && *q.MinScore > floor {
			floor = *q.MinScore
		}
		results, err = s.query(ctx, q, q.Limit+tieWindow, &floor)
		if err != nil {
			return nil, err
		}
	}

	results = vector.Rank(results, q.Limit)
	s.logger.Debug("queried qdrant", "results", len(results))
	return results, nil
}

func (s *Store) delete(ctx context.Context, filter *qdrant.Filter) error {
	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(filter),
	}); err != nil {
		return fmt.Errorf("%w: deleting points: %v", vector.ErrStorage, err)
	}
	return nil
}

// DeleteByTags removes points carrying all of the given tags.
func (s *Store) DeleteByTags(ctx context.Context, tags []string) error {
	tags = vector.NormalizeSet(tags)
	if len(tags) == 0 {
		return nil
	}
	return s.delete(ctx, filterFor(tags, nil))
}

// DeleteBySourceKinds removes points whose source kind is in kinds.
func (s *Store) DeleteBySourceKinds(ctx context.Context, kinds []string) error {
	kinds = vector.NormalizeSet(kinds)
	if len(kinds) == 0 {
		return nil
	}
	return s.delete(ctx, filterFor(nil, kinds))
}

// DeleteByDocumentIDs removes every chunk of the given documents.
func (s *Store) DeleteByDocumentIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.delete(ctx, &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchKeywords(keyDocumentID, ids...)},
	})
}

// TrimDocument removes chunks of documentID at or past index total.
func (s *Store) TrimDocument(ctx context.Context, documentID string, total int) error {
	return s.delete(ctx, &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchKeyword(keyDocumentID, documentID),
			qdrant.NewRange(keyChunkIndex, &qdrant.Range{Gte: qdrant.PtrOf(float64(total))}),
		},
	})
}

// Count returns the exact number of points.
func (s *Store) Count(ctx context.Context) (uint64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: counting points: %v", vector.ErrStorage, err)
	}
	return n, nil
}

// CollectionInfo describes the collection as reported by Qdrant.
func (s *Store) CollectionInfo(ctx context.Context) (vector.CollectionInfo, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return vector.CollectionInfo{}, fmt.Errorf("%w: reading collection: %v", vector.ErrStorage, err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		return vector.CollectionInfo{}, err
	}

	status := "green"
	switch info.GetStatus() {
	case qdrant.CollectionStatus_Yellow:
		status = "yellow"
	case qdrant.CollectionStatus_Red:
		status = "red"
	case qdrant.CollectionStatus_Grey:
		status = "grey"
	}

	return vector.CollectionInfo{
		Name:       s.collection,
		Backend:    "qdrant",
		Dimensions: s.dimensions,
		Points:     n,
		Status:     status,
	}, nil
}

// ListTags returns every distinct tag, sorted, using a facet over the tag
// index.
func (s *Store) ListTags(ctx context.Context) ([]string, error) {
	hits, err := s.client.Facet(ctx, &qdrant.FacetCounts{
		CollectionName: s.collection,
		Key:            keyTags,
		Limit:          qdrant.PtrOf(uint64(maxFacetTags)),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing tags: %v", vector.ErrStorage, err)
	}

	tags := make([]string, 0, len(hits))
	for _, h := range hits {
		if v := h.GetValue().GetStringValue(); v != "" {
			tags = append(tags, v)
		}
	}
	slices.Sort(tags)
	return tags, nil
}

// Clear removes every point, keeping the collection.
func (s *Store) Clear(ctx context.Context) error {
	return s.delete(ctx, &qdrant.Filter{})
}

// Health checks that the server is reachable.
func (s *Store) Health(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ vector.Store = (*Store)(nil)
