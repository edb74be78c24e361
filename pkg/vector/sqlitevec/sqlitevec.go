// Package sqlitevec provides a SQLite-backed vector.Store using sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/semsearch/pkg/logger"
	"github.com/papercomputeco/semsearch/pkg/vector"
)

var collectionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Store implements vector.Store on SQLite. Vectors are stored as float32
// blobs and scored with sqlite-vec's vec_distance_cosine over the rows that
// pass the filters, so filtered searches are exact.
type Store struct {
	db         *sql.DB
	name       string
	dimensions int
	points     string
	tags       string
	logger     *slog.Logger
}

// Config holds configuration for the SQLite vec store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Collection names the tables. Defaults to vector.DefaultCollection.
	Collection string

	// Dimensions is the number of dimensions for the embedding vectors.
	Dimensions int

	Logger *slog.Logger
}

// NewStore opens (and if needed creates) the collection tables.
func NewStore(ctx context.Context, c Config) (*Store, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if c.Dimensions <= 0 {
		return nil, errors.New("sqlite-vec embedding dimensions must be configured")
	}

	name := c.Collection
	if name == "" {
		name = vector.DefaultCollection
	}
	if !collectionPattern.MatchString(name) {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}

	log := logger.OrNop(c.Logger)

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", vector.ErrConnection, err)
	}
	// A single connection keeps ":memory:" databases coherent and serialises
	// writers.
	db.SetMaxOpenConns(1)

	var vecVersion string
	if err := db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	s := &Store{
		db:         db,
		name:       name,
		dimensions: c.Dimensions,
		points:     name + "_points",
		tags:       name + "_tags",
		logger:     log,
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("sqlite-vec vector store initialized",
		"db_path", c.DBPath,
		"collection", name,
		"dimensions", c.Dimensions,
		"vec_version", vecVersion,
	)

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			point_id TEXT NOT NULL UNIQUE,
			seq INTEGER NOT NULL,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			source_kind TEXT NOT NULL,
			source_location TEXT NOT NULL,
			source_url TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			line_start INTEGER NOT NULL DEFAULT 0,
			line_end INTEGER NOT NULL DEFAULT 0,
			checksum TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			embedding BLOB NOT NULL
		)`, s.points),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s(document_id)`, s.points, s.points),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_source_idx ON %s(source_kind)`, s.points, s.points),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_seq_idx ON %s(seq)`, s.points, s.points),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			point_rowid INTEGER NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (point_rowid, tag)
		)`, s.tags),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_tag_idx ON %s(tag)`, s.tags, s.tags),
		`CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			dimensions INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	var dims int
	err := s.db.QueryRowContext(ctx, `SELECT dimensions FROM collections WHERE name = ?`, s.name).Scan(&dims)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO collections(name, dimensions) VALUES (?, ?)`, s.name, s.dimensions,
		); err != nil {
			return fmt.Errorf("registering collection: %w", err)
		}
	case err != nil:
		return fmt.Errorf("reading collection: %w", err)
	case dims != s.dimensions:
		return fmt.Errorf("%w: collection %s was created with %d dimensions, configured %d",
			vector.ErrDimensionMismatch, s.name, dims, s.dimensions)
	}
	return nil
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Upsert inserts or replaces points in one transaction.
func (s *Store) Upsert(ctx context.Context, points []vector.Point) error {
	if err := vector.Validate(points, s.dimensions); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", vector.ErrStorage, err)
	}
	defer tx.Rollback()

	upsert := fmt.Sprintf(`
		INSERT INTO %s (point_id, seq, document_id, chunk_index, content, source_kind,
			source_location, source_url, path, title, line_start, line_end, checksum,
			created_at, embedding)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM %s), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(point_id) DO UPDATE SET
			seq = excluded.seq,
			document_id = excluded.document_id,
			chunk_index = excluded.chunk_index,
			content = excluded.content,
			source_kind = excluded.source_kind,
			source_location = excluded.source_location,
			source_url = excluded.source_url,
			path = excluded.path,
			title = excluded.title,
			line_start = excluded.line_start,
			line_end = excluded.line_end,
			checksum = excluded.checksum,
			created_at = excluded.created_at,
			embedding = excluded.embedding
		RETURNING rowid`, s.points, s.points)

	for _, p := range points {
		pl := p.Payload
		createdAt := pl.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		var rowID int64
		if err := tx.QueryRowContext(ctx, upsert,
			p.ID, pl.DocumentID, pl.ChunkIndex, pl.Content, pl.SourceKind,
			pl.SourceLocation, pl.SourceURL, pl.Path, pl.Title, pl.LineStart, pl.LineEnd,
			pl.Checksum, createdAt.Format(time.RFC3339Nano), serializeFloat32(p.Vector),
		).Scan(&rowID); err != nil {
			return fmt.Errorf("%w: upserting point %s: %v", vector.ErrStorage, p.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE point_rowid = ?`, s.tags), rowID,
		); err != nil {
			return fmt.Errorf("%w: clearing tags for %s: %v", vector.ErrStorage, p.ID, err)
		}
		for _, tag := range vector.NormalizeSet(pl.Tags) {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO %s (point_rowid, tag) VALUES (?, ?)`, s.tags), rowID, tag,
			); err != nil {
				return fmt.Errorf("%w: tagging %s: %v", vector.ErrStorage, p.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", vector.ErrStorage, err)
	}

	s.logger.Debug("upserted points to sqlite-vec", "count", len(points))
	return nil
}

// filterClause renders the WHERE conditions shared by search and delete.
func (s *Store) filterClause(tags, kinds []string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(kinds) > 0 {
		conds = append(conds, fmt.Sprintf("p.source_kind IN (%s)", placeholders(len(kinds))))
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	for _, tag := range tags {
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM %s t WHERE t.point_rowid = p.rowid AND t.tag = ?)", s.tags))
		args = append(args, tag)
	}
	if len(conds) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(conds, " AND "), args
}

// Search scores filtered rows with vec_distance_cosine. A zero vector has
// no direction; its NaN distance reaches SQL as NULL and scores 0.
func (s *Store) Search(ctx context.Context, q vector.Query) ([]vector.Result, error) {
	q, err := q.Normalize(s.dimensions)
	if err != nil {
		return nil, err
	}

	where, filterArgs := s.filterClause(q.Tags, q.SourceKinds)
	minScore := math.Inf(-1)
	if q.MinScore != nil {
		minScore = float64(*q.MinScore)
	}

	query := fmt.Sprintf(`
		SELECT rowid, point_id, seq, score, document_id, chunk_index, content, source_kind,
			source_location, source_url, path, title, line_start, line_end, checksum, created_at
		FROM (
			SELECT p.*, COALESCE(1.0 - vec_distance_cosine(p.embedding, ?), 0.0) AS score
			FROM %s p
			WHERE %s
		)
		WHERE score >= ?
		ORDER BY score DESC, seq ASC, point_id ASC
		LIMIT ?`, s.points, where)

	args := append([]any{serializeFloat32(q.Vector)}, filterArgs...)
	args = append(args, minScore, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying vectors: %v", vector.ErrStorage, err)
	}
	defer rows.Close()

	var (
		results []vector.Result
		rowIDs  []int64
	)
	for rows.Next() {
		var (
			rowID     int64
			score     float64
			createdAt string
			r         vector.Result
		)
		if err := rows.Scan(&rowID, &r.ID, &r.Seq, &score,
			&r.Payload.DocumentID, &r.Payload.ChunkIndex, &r.Payload.Content, &r.Payload.SourceKind,
			&r.Payload.SourceLocation, &r.Payload.SourceURL, &r.Payload.Path, &r.Payload.Title,
			&r.Payload.LineStart, &r.Payload.LineEnd, &r.Payload.Checksum, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scanning result: %v", vector.ErrStorage, err)
		}
		r.Score = float32(score)
		r.Payload.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		results = append(results, r)
		rowIDs = append(rowIDs, rowID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating results: %v", vector.ErrStorage, err)
	}
	rows.Close()

	if err := s.attachTags(ctx, results, rowIDs); err != nil {
		return nil, err
	}

	s.logger.Debug("queried sqlite-vec", "results", len(results))
	return results, nil
}

func (s *Store) attachTags(ctx context.Context, results []vector.Result, rowIDs []int64) error {
	if len(rowIDs) == 0 {
		return nil
	}

	index := make(map[int64]int, len(rowIDs))
	args := make([]any, len(rowIDs))
	for i, id := range rowIDs {
		index[id] = i
		args[i] = id
		results[i].Payload.Tags = []string{}
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT point_rowid, tag FROM %s WHERE point_rowid IN (%s) ORDER BY tag`,
		s.tags, placeholders(len(rowIDs))), args...)
	if err != nil {
		return fmt.Errorf("%w: loading tags: %v", vector.ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rowID int64
			tag   string
		)
		if err := rows.Scan(&rowID, &tag); err != nil {
			return fmt.Errorf("%w: scanning tag: %v", vector.ErrStorage, err)
		}
		i := index[rowID]
		results[i].Payload.Tags = append(results[i].Payload.Tags, tag)
	}
	return rows.Err()
}

// deleteWhere removes the points matched by cond along with their tags.
func (s *Store) deleteWhere(ctx context.Context, cond string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", vector.ErrStorage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE point_rowid IN (SELECT p.rowid FROM %s p WHERE %s)`,
		s.tags, s.points, cond), args...); err != nil {
		return fmt.Errorf("%w: deleting tags: %v", vector.ErrStorage, err)
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE rowid IN (SELECT p.rowid FROM %s p WHERE %s)`,
		s.points, s.points, cond), args...)
	if err != nil {
		return fmt.Errorf("%w: deleting points: %v", vector.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", vector.ErrStorage, err)
	}

	n, _ := res.RowsAffected()
	s.logger.Debug("deleted points from sqlite-vec", "count", n)
	return nil
}

// DeleteByTags removes points carrying all of the given tags.
func (s *Store) DeleteByTags(ctx context.Context, tags []string) error {
	tags = vector.NormalizeSet(tags)
	if len(tags) == 0 {
		return nil
	}
	cond, args := s.filterClause(tags, nil)
	return s.deleteWhere(ctx, cond, args...)
}

// DeleteBySourceKinds removes points whose source kind is in kinds.
func (s *Store) DeleteBySourceKinds(ctx context.Context, kinds []string) error {
	kinds = vector.NormalizeSet(kinds)
	if len(kinds) == 0 {
		return nil
	}
	cond, args := s.filterClause(nil, kinds)
	return s.deleteWhere(ctx, cond, args...)
}

// DeleteByDocumentIDs removes every chunk of the given documents.
func (s *Store) DeleteByDocumentIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.deleteWhere(ctx, fmt.Sprintf("p.document_id IN (%s)", placeholders(len(ids))), args...)
}

// TrimDocument removes chunks of documentID at or past index total.
func (s *Store) TrimDocument(ctx context.Context, documentID string, total int) error {
	return s.deleteWhere(ctx, "p.document_id = ? AND p.chunk_index >= ?", documentID, total)
}

// Count returns the number of stored points.
func (s *Store) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.points)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting points: %v", vector.ErrStorage, err)
	}
	return n, nil
}

// CollectionInfo describes the collection.
func (s *Store) CollectionInfo(ctx context.Context) (vector.CollectionInfo, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return vector.CollectionInfo{}, err
	}
	return vector.CollectionInfo{
		Name:       s.name,
		Backend:    "sqlite",
		Dimensions: s.dimensions,
		Points:     n,
		Status:     "green",
	}, nil
}

// ListTags returns every distinct tag, sorted.
func (s *Store) ListTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT tag FROM %s ORDER BY tag`, s.tags))
	if err != nil {
		return nil, fmt.Errorf("%w: listing tags: %v", vector.ErrStorage, err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("%w: scanning tag: %v", vector.ErrStorage, err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Clear removes all points and tags.
func (s *Store) Clear(ctx context.Context) error {
	return s.deleteWhere(ctx, "1 = 1")
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}
	return nil
}

// Close releases resources held by the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Dimensions reports the configured dimensionality.
func (s *Store) Dimensions() int { return s.dimensions }

var _ vector.Store = (*Store)(nil)
