package graph

import (
	"strings"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
)

// Book is one catalog record as a graph node with its links.
type Book struct {
	Key     string
	Props   map[string]any
	Authors []string
	Genres  []string
}

func (b Book) row() map[string]any {
	return map[string]any{
		"key":     b.Key,
		"props":   b.Props,
		"authors": b.Authors,
		"genres":  b.Genres,
	}
}

// Fields names the record fields the projection reads.
type Fields struct {
	Author string   // comma-separated author names
	Genres string   // list of genre tags
	Props  []string // scalar fields copied onto the Book node
}

// DefaultFields matches the book schema.
var DefaultFields = Fields{
	Author: "author",
	Genres: "genres",
	Props:  []string{"title", "year_published", "pages", "score", "votes"},
}

func (f Fields) withDefaults() Fields {
	if f.Author == "" {
		f.Author = DefaultFields.Author
	}
	if f.Genres == "" {
		f.Genres = DefaultFields.Genres
	}
	if f.Props == nil {
		f.Props = DefaultFields.Props
	}
	return f
}

// Books pairs index keys with records. keys and records are parallel.
func (f Fields) Books(keys []string, records []domain.Record) []Book {
	n := min(len(keys), len(records))
	books := make([]Book, 0, n)
	for i := 0; i < n; i++ {
		rec := records[i]
		props := make(map[string]any, len(f.Props))
		for _, name := range f.Props {
			switch v := rec[name].(type) {
			case string, bool, int, int64, float64:
				props[name] = v
			}
		}
		books = append(books, Book{
			Key:     keys[i],
			Props:   props,
			Authors: splitNames(rec.Text(f.Author)),
			Genres:  dedupe(rec.Strings(f.Genres)),
		})
	}
	return books
}

func splitNames(s string) []string {
	if s == "" {
		return []string{}
	}
	return dedupe(strings.Split(s, ","))
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
