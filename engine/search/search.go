// Package search answers natural-language catalog queries: it embeds the
// query text and runs a filtered k-NN query against the document index.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/catalog-vectors/engine/index"
	"github.com/WessleyAI/catalog-vectors/engine/ingest"
	"github.com/WessleyAI/catalog-vectors/pkg/fn"
	"github.com/WessleyAI/catalog-vectors/pkg/metrics"
)

// ErrEmptyQuery is returned for blank query text.
var ErrEmptyQuery = errors.New("search: empty query")

// Querier is the read side of a document index.
type Querier interface {
	Query(ctx context.Context, q index.Query) ([]index.Match, error)
}

// Request is a text query with optional tag filters.
type Request struct {
	Text    string            `json:"text"`
	Filters map[string]string `json:"filters,omitempty"`
	Fields  []string          `json:"fields,omitempty"`
	K       int               `json:"k,omitempty"`
}

// Service embeds queries and searches the index.
type Service struct {
	embed   fn.Stage[string, []float32]
	index   Querier
	log     *slog.Logger
	queries *metrics.Counter
	errors  *metrics.Counter
	latency *metrics.Histogram
}

// New creates a search Service. met may be nil.
func New(embedder ingest.Embedder, idx Querier, met *metrics.Registry, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if met == nil {
		met = metrics.New()
	}
	return &Service{
		embed: fn.TracedStage("search.embed", func(ctx context.Context, text string) fn.Result[[]float32] {
			return fn.FromPair(embedder.Embed(ctx, text))
		}),
		index:   idx,
		log:     log,
		queries: met.Counter("catalog_search_queries_total", "Search requests"),
		errors:  met.Counter("catalog_search_errors_total", "Failed search requests"),
		latency: met.Histogram("catalog_search_duration_seconds", "End-to-end search latency", nil),
	}
}

// Search embeds req.Text and returns the nearest matches, closest first.
func (s *Service) Search(ctx context.Context, req Request) ([]index.Match, error) {
	start := time.Now()
	s.queries.Inc()
	matches, err := s.search(ctx, req)
	s.latency.Since(start)
	if err != nil {
		s.errors.Inc()
		return nil, err
	}
	s.log.Debug("search", "text", req.Text, "filters", req.Filters, "results", len(matches))
	return matches, nil
}

func (s *Service) search(ctx context.Context, req Request) ([]index.Match, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	vec, err := s.embed(ctx, text).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	matches, err := s.index.Query(ctx, index.Query{
		Vector:       vec,
		Filters:      req.Filters,
		ReturnFields: req.Fields,
		NumResults:   req.K,
	})
	if err != nil {
		return nil, fmt.Errorf("search: query index: %w", err)
	}
	return matches, nil
}

// ParseFilters turns "field=value" pairs into a filter map.
func ParseFilters(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("search: filter %q: want field=value", p)
		}
		out[name] = value
	}
	return out, nil
}

// ParseFields splits a comma-separated field list.
func ParseFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
