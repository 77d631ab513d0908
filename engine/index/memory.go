package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
	"github.com/WessleyAI/catalog-vectors/engine/schema"
)

// MemoryIndex is an in-process DocumentIndex for tests and dry runs.
type MemoryIndex struct {
	mu     sync.RWMutex
	schema *schema.Schema
	dist   DistanceFunc
	docs   map[string]Doc
}

// NewMemory creates an empty in-memory index.
func NewMemory() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]Doc)}
}

func (m *MemoryIndex) EnsureSchema(_ context.Context, s *schema.Schema, overwrite bool) error {
	if err := s.Validate(); err != nil {
		return err
	}
	dist, err := Distance(s.Vector().Attrs.DistanceMetric)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.schema != nil && !overwrite {
		if m.schema.Index.Name != s.Index.Name || m.schema.Dims() != s.Dims() {
			return fmt.Errorf("%w: %s has %d dims", ErrSchemaConflict, m.schema.Index.Name, m.schema.Dims())
		}
		return nil
	}
	m.schema = s
	m.dist = dist
	m.docs = make(map[string]Doc)
	return nil
}

func (m *MemoryIndex) Load(_ context.Context, records []domain.Record) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, err := Prepare(m.schema, records)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		m.docs[d.Key] = d
	}
	return Keys(docs), nil
}

func (m *MemoryIndex) Query(_ context.Context, q Query) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.schema == nil {
		return nil, ErrNoSchema
	}
	if err := m.schema.CheckFilters(q.Filters); err != nil {
		return nil, err
	}
	if err := domain.CheckDims(q.Vector, m.schema.Dims()); err != nil {
		return nil, fmt.Errorf("index: query vector: %w: %v", domain.ErrDimensionMismatch, err)
	}
	var matches []Match
	for _, d := range m.docs {
		if !MatchFilters(d.Fields, q.Filters) {
			continue
		}
		matches = append(matches, Match{
			Key:      d.Key,
			Distance: m.dist(q.Vector, d.Vector),
			Fields:   Project(d.Fields, q.ReturnFields),
		})
	}
	return Rank(matches, q.Limit()), nil
}

// Len returns the number of stored documents.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Keys returns the stored keys.
func (m *MemoryIndex) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.docs))
	for k := range m.docs {
		out = append(out, k)
	}
	return out
}

func (m *MemoryIndex) Close() error { return nil }
