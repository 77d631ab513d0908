// Package sqlite implements index.DocumentIndex on a local SQLite file.
// Vectors are stored as little-endian float32 blobs and queries scan the
// table, which suits catalogs of up to a few hundred thousand records.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
	"github.com/WessleyAI/catalog-vectors/engine/index"
	"github.com/WessleyAI/catalog-vectors/engine/schema"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Index is a SQLite-backed document index.
type Index struct {
	db     *sql.DB
	schema *schema.Schema
	dist   index.DistanceFunc
	table  string
}

var _ index.DocumentIndex = (*Index)(nil)

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*Index, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS index_meta (
		name TEXT PRIMARY KEY,
		dims INTEGER NOT NULL,
		metric TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init %s: %w", path, err)
	}
	return &Index{db: db}, nil
}

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}

// EnsureSchema creates the document table. The recorded dims and metric of an
// existing index must match unless overwrite is set.
func (x *Index) EnsureSchema(ctx context.Context, s *schema.Schema, overwrite bool) error {
	if err := s.Validate(); err != nil {
		return err
	}
	table := strings.ToLower(s.Index.Name)
	if !identRe.MatchString(table) {
		return fmt.Errorf("%w: index name %q is not a valid table name", schema.ErrInvalidSchema, s.Index.Name)
	}
	metric := s.Vector().Attrs.DistanceMetric
	dist, err := index.Distance(metric)
	if err != nil {
		return err
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	var (
		dims      int
		oldMetric string
	)
	err = tx.QueryRowContext(ctx, `SELECT dims, metric FROM index_meta WHERE name = ?`, table).Scan(&dims, &oldMetric)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("sqlite: read meta: %w", err)
	case overwrite:
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			return fmt.Errorf("sqlite: drop %s: %w", table, err)
		}
	case dims != s.Dims() || oldMetric != metric:
		return fmt.Errorf("%w: %s has %d dims (%s)", index.ErrSchemaConflict, table, dims, oldMetric)
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			doc TEXT NOT NULL,
			vector BLOB NOT NULL
		)`, table),
		`INSERT INTO index_meta (name, dims, metric) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET dims = excluded.dims, metric = excluded.metric`,
	}
	if _, err := tx.ExecContext(ctx, stmts[0]); err != nil {
		return fmt.Errorf("sqlite: create %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, stmts[1], table, s.Dims(), metric); err != nil {
		return fmt.Errorf("sqlite: write meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	x.schema, x.dist, x.table = s, dist, table
	return nil
}

// Load upserts records in one transaction.
func (x *Index) Load(ctx context.Context, records []domain.Record) ([]string, error) {
	docs, err := index.Prepare(x.schema, records)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (key, doc, vector) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET doc = excluded.doc, vector = excluded.vector`, x.table))
	if err != nil {
		return nil, fmt.Errorf("sqlite: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		body, err := json.Marshal(d.Fields)
		if err != nil {
			return nil, fmt.Errorf("sqlite: marshal %s: %w", d.Key, err)
		}
		if _, err := stmt.ExecContext(ctx, d.Key, string(body), vectorToBlob(d.Vector)); err != nil {
			return nil, fmt.Errorf("sqlite: upsert %s: %w", d.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return index.Keys(docs), nil
}

// Query scans every document, applies tag filters and ranks by distance.
func (x *Index) Query(ctx context.Context, q index.Query) ([]index.Match, error) {
	if x.schema == nil {
		return nil, index.ErrNoSchema
	}
	if err := x.schema.CheckFilters(q.Filters); err != nil {
		return nil, err
	}
	if err := domain.CheckDims(q.Vector, x.schema.Dims()); err != nil {
		return nil, fmt.Errorf("sqlite: query vector: %w: %v", domain.ErrDimensionMismatch, err)
	}

	rows, err := x.db.QueryContext(ctx, `SELECT key, doc, vector FROM `+x.table)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan %s: %w", x.table, err)
	}
	defer rows.Close()

	var matches []index.Match
	for rows.Next() {
		var (
			key  string
			body string
			blob []byte
		)
		if err := rows.Scan(&key, &body, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: scan row: %w", err)
		}
		var fields domain.Record
		if err := json.Unmarshal([]byte(body), &fields); err != nil {
			return nil, fmt.Errorf("sqlite: decode %s: %w", key, err)
		}
		if !index.MatchFilters(fields, q.Filters) {
			continue
		}
		vec, err := blobToVector(blob)
		if err != nil {
			return nil, fmt.Errorf("sqlite: decode %s: %w", key, err)
		}
		matches = append(matches, index.Match{
			Key:      key,
			Distance: x.dist(q.Vector, vec),
			Fields:   index.Project(fields, q.ReturnFields),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return index.Rank(matches, q.Limit()), nil
}

// Count returns the number of stored documents.
func (x *Index) Count(ctx context.Context) (int, error) {
	if x.schema == nil {
		return 0, index.ErrNoSchema
	}
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+x.table).Scan(&n)
	return n, err
}

func vectorToBlob(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func blobToVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob size %d is not a multiple of 4", len(blob))
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector, nil
}
