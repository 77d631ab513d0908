// Package graph projects loaded catalog records into Neo4j as
// (:Author)-[:WROTE]->(:Book)-[:IN_GENRE]->(:Genre) so that catalog
// relationships can be explored next to vector search.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/catalog-vectors/engine/ingest"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// sessionAdapter adapts neo4j.SessionWithContext to runner.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// Open connects to Neo4j and verifies connectivity.
func Open(ctx context.Context, url, user, pass string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: driver %s: %w", url, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graph: connect %s: %w", url, err)
	}
	return driver, nil
}

// Projector writes books, authors and genres to Neo4j.
type Projector struct {
	newSession func(ctx context.Context) runner
	fields     Fields
	log        *slog.Logger
}

var _ ingest.Observer = (*Projector)(nil)

// New creates a Projector on a driver.
func New(driver neo4j.DriverWithContext, fields Fields, log *slog.Logger) *Projector {
	return newProjector(func(ctx context.Context) runner {
		return &sessionAdapter{sess: driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})}
	}, fields, log)
}

func newProjector(open func(ctx context.Context) runner, fields Fields, log *slog.Logger) *Projector {
	if log == nil {
		log = slog.Default()
	}
	return &Projector{newSession: open, fields: fields.withDefaults(), log: log}
}

var constraints = []string{
	`CREATE CONSTRAINT book_key IF NOT EXISTS FOR (b:Book) REQUIRE b.key IS UNIQUE`,
	`CREATE CONSTRAINT author_name IF NOT EXISTS FOR (a:Author) REQUIRE a.name IS UNIQUE`,
	`CREATE CONSTRAINT genre_name IF NOT EXISTS FOR (g:Genre) REQUIRE g.name IS UNIQUE`,
}

// EnsureConstraints creates the uniqueness constraints MERGE relies on.
func (p *Projector) EnsureConstraints(ctx context.Context) error {
	sess := p.newSession(ctx)
	defer sess.Close(ctx)
	for _, c := range constraints {
		if _, err := sess.Run(ctx, c, nil); err != nil {
			return fmt.Errorf("graph: constraint: %w", err)
		}
	}
	return nil
}

const projectCypher = `UNWIND $rows AS row
MERGE (b:Book {key: row.key})
SET b += row.props
FOREACH (name IN row.authors |
  MERGE (a:Author {name: name})
  MERGE (a)-[:WROTE]->(b))
FOREACH (name IN row.genres |
  MERGE (g:Genre {name: name})
  MERGE (b)-[:IN_GENRE]->(g))`

// Project merges books in one statement. Re-projecting the same keys
// updates properties without duplicating nodes or edges.
func (p *Projector) Project(ctx context.Context, books []Book) error {
	if len(books) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(books))
	for i, b := range books {
		rows[i] = b.row()
	}
	sess := p.newSession(ctx)
	defer sess.Close(ctx)
	if _, err := sess.Run(ctx, projectCypher, map[string]any{"rows": rows}); err != nil {
		return fmt.Errorf("graph: project %d books: %w", len(books), err)
	}
	return nil
}

// BatchLoaded projects a loaded batch. Failures are logged; the graph is a
// secondary view and never holds up the load.
func (p *Projector) BatchLoaded(ctx context.Context, r ingest.BatchReport) {
	books := p.fields.Books(r.Keys, r.Records)
	if err := p.Project(ctx, books); err != nil {
		p.log.Warn("graph: projection failed", "error", err, "batch", r.Batch)
		return
	}
	p.log.Debug("graph: batch projected", "batch", r.Batch, "books", len(books))
}

const relatedCypher = `MATCH (b:Book {key: $key})-[:IN_GENRE|WROTE]-(shared)-[:IN_GENRE|WROTE]-(other:Book)
WHERE other.key <> $key
RETURN other.key AS key, other.title AS title, count(DISTINCT shared) AS shared
ORDER BY shared DESC, key
LIMIT $limit`

// Related is a book linked to another through shared authors or genres.
type Related struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Shared int64  `json:"shared"`
}

// Related returns books sharing the most authors and genres with key.
func (p *Projector) Related(ctx context.Context, key string, limit int) ([]Related, error) {
	if limit <= 0 {
		limit = 10
	}
	sess := p.newSession(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, relatedCypher, map[string]any{"key": key, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("graph: related %s: %w", key, err)
	}
	var out []Related
	for res.Next(ctx) {
		rec := res.Record()
		k, _, err := neo4j.GetRecordValue[string](rec, "key")
		if err != nil {
			return nil, fmt.Errorf("graph: related %s: %w", key, err)
		}
		title, _, _ := neo4j.GetRecordValue[string](rec, "title")
		shared, _, _ := neo4j.GetRecordValue[int64](rec, "shared")
		out = append(out, Related{Key: k, Title: title, Shared: shared})
	}
	return out, nil
}
