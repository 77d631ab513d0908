// Package index defines the Document Index contract the loader writes to and
// the search path reads from, plus helpers shared by every backend: key
// derivation, vector checks, tag filtering and distance functions.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
	"github.com/WessleyAI/catalog-vectors/engine/schema"
)

// DefaultNumResults is used when a query does not set NumResults.
const DefaultNumResults = 10

var (
	ErrNoSchema       = errors.New("index: schema not ensured")
	ErrSchemaConflict = errors.New("index: existing index does not match schema")
)

// DocumentIndex stores records with a vector field and answers
// nearest-neighbour queries.
type DocumentIndex interface {
	// EnsureSchema creates the index, or validates an existing one. With
	// overwrite set, an existing index and its documents are dropped first.
	EnsureSchema(ctx context.Context, s *schema.Schema, overwrite bool) error
	// Load upserts all records in one call and returns one key per record.
	Load(ctx context.Context, records []domain.Record) ([]string, error)
	// Query ranks documents by ascending vector distance.
	Query(ctx context.Context, q Query) ([]Match, error)
	Close() error
}

// Query is a vector search with optional exact-match tag filters.
type Query struct {
	Vector       []float32
	Filters      map[string]string
	ReturnFields []string
	NumResults   int
}

// Limit returns NumResults or the default.
func (q Query) Limit() int {
	if q.NumResults <= 0 {
		return DefaultNumResults
	}
	return q.NumResults
}

// Match is one ranked search hit.
type Match struct {
	Key      string        `json:"key"`
	Distance float32       `json:"vector_distance"`
	Fields   domain.Record `json:"fields"`
}

// Doc is a record prepared for storage.
type Doc struct {
	Key    string
	Vector []float32
	Fields domain.Record // record without the vector field
}

// Prepare derives keys and vectors for a batch. Records without a key field
// value get a generated UUID, which is written back into the record. The
// loader submits the caller's own records, so the caller sees the same key
// the index stored.
func Prepare(s *schema.Schema, records []domain.Record) ([]Doc, error) {
	if s == nil {
		return nil, ErrNoSchema
	}
	vf := s.Vector().Name
	dims := s.Dims()
	docs := make([]Doc, len(records))
	for i, rec := range records {
		vec, ok := rec.Vector(vf)
		if !ok {
			return nil, fmt.Errorf("index: record %d: %w: no %q vector", i, domain.ErrDimensionMismatch, vf)
		}
		if err := domain.CheckDims(vec, dims); err != nil {
			return nil, fmt.Errorf("index: record %d: %w: %v", i, domain.ErrDimensionMismatch, err)
		}
		id := rec.ID(s.Index.KeyField)
		if id == "" {
			id = uuid.NewString()
			rec[s.Index.KeyField] = id
		}
		docs[i] = Doc{Key: s.Key(id), Vector: vec, Fields: rec.Without(vf)}
	}
	return docs, nil
}

// Keys returns the keys of prepared docs in order.
func Keys(docs []Doc) []string {
	keys := make([]string, len(docs))
	for i, d := range docs {
		keys[i] = d.Key
	}
	return keys
}

// PointID maps a key to a stable UUID for stores that require UUID ids.
func PointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// MatchFilters reports whether every filter value equals one of the field's
// tag values.
func MatchFilters(fields domain.Record, filters map[string]string) bool {
	for name, want := range filters {
		found := false
		for _, v := range fields.Strings(name) {
			if v == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Project keeps only the named fields. An empty list keeps everything.
func Project(fields domain.Record, names []string) domain.Record {
	if len(names) == 0 {
		return fields
	}
	out := make(domain.Record, len(names))
	for _, n := range names {
		if v, ok := fields[n]; ok {
			out[n] = v
		}
	}
	return out
}

// Rank sorts matches by distance, then key, and truncates to limit.
func Rank(matches []Match, limit int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Key < matches[j].Key
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
