// Package source reads catalog records from dataset files. JSON (an array of
// records or one record per file), JSON Lines and CSV are supported,
// optionally gzip or zstd compressed, and a single source may span every file
// matched by a glob pattern.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
)

// ErrNoInput is returned when a pattern matches no files.
var ErrNoInput = errors.New("source: no input files")

// Source yields records in dataset order. Next returns io.EOF once exhausted.
type Source interface {
	Next(ctx context.Context) (domain.Record, error)
	Close() error
}

// Open returns a source over every file matching pattern, read in lexical
// order. A plain path is a pattern matching itself.
func Open(pattern string) (Source, error) {
	paths, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("source: glob %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoInput, pattern)
	}
	sort.Strings(paths)
	return &multiSource{paths: paths}, nil
}

// multiSource opens files lazily, one at a time.
type multiSource struct {
	paths []string
	cur   Source
	next  int
}

func (m *multiSource) Next(ctx context.Context) (domain.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m.cur == nil {
			if m.next >= len(m.paths) {
				return nil, io.EOF
			}
			f, err := OpenFile(m.paths[m.next])
			if err != nil {
				return nil, err
			}
			m.cur = f
			m.next++
		}
		rec, err := m.cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			if err := m.cur.Close(); err != nil {
				return nil, err
			}
			m.cur = nil
			continue
		}
		return rec, err
	}
}

func (m *multiSource) Close() error {
	if m.cur == nil {
		return nil
	}
	err := m.cur.Close()
	m.cur = nil
	return err
}

// Slice is an in-memory source.
type Slice struct {
	records []domain.Record
	pos     int
}

// FromSlice wraps records as a Source. The records themselves are shared, not copied.
func FromSlice(records []domain.Record) *Slice {
	return &Slice{records: records}
}

func (s *Slice) Next(ctx context.Context) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}

func (s *Slice) Close() error { return nil }

// Skip discards up to n records and reports how many were skipped.
func Skip(ctx context.Context, src Source, n int) (int, error) {
	for i := 0; i < n; i++ {
		if _, err := src.Next(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return i, nil
			}
			return i, err
		}
	}
	return n, nil
}
