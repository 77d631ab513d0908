// Package backend opens a DocumentIndex from a connection URL. The scheme
// selects the engine:
//
//	qdrant://host:6334           Qdrant over gRPC
//	postgres://user@host/db      PostgreSQL with pgvector
//	sqlite:///var/lib/books.db   local SQLite file (sqlite://:memory: for scratch)
//	mem://                       in-process, lost on exit
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/WessleyAI/catalog-vectors/engine/index"
	"github.com/WessleyAI/catalog-vectors/engine/index/pgvector"
	"github.com/WessleyAI/catalog-vectors/engine/index/qdrant"
	"github.com/WessleyAI/catalog-vectors/engine/index/sqlite"
)

// Schemes lists the accepted URL schemes.
var Schemes = []string{"qdrant", "postgres", "postgresql", "sqlite", "mem"}

// Open connects to the index named by rawURL. The caller owns the returned
// index and must Close it.
func Open(ctx context.Context, rawURL string) (index.DocumentIndex, error) {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return nil, fmt.Errorf("backend: index url %q has no scheme, want one of %s", rawURL, strings.Join(Schemes, ", "))
	}
	var (
		idx index.DocumentIndex
		err error
	)
	switch strings.ToLower(scheme) {
	case "qdrant":
		idx, err = openQdrant(rawURL)
	case "postgres", "postgresql":
		idx, err = openPostgres(ctx, rawURL)
	case "sqlite":
		if rest == "" {
			rest = ":memory:"
		}
		idx, err = openSQLite(rest)
	case "mem":
		idx = index.NewMemory()
	default:
		return nil, fmt.Errorf("backend: unsupported index scheme %q, want one of %s", scheme, strings.Join(Schemes, ", "))
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func openQdrant(rawURL string) (index.DocumentIndex, error) {
	idx, err := qdrant.Open(rawURL)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func openPostgres(ctx context.Context, dsn string) (index.DocumentIndex, error) {
	idx, err := pgvector.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func openSQLite(path string) (index.DocumentIndex, error) {
	idx, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	return idx, nil
}
