package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
	"github.com/WessleyAI/catalog-vectors/engine/index"
	"github.com/WessleyAI/catalog-vectors/engine/search"
)

type queryFlags struct {
	commonFlags
	text    string
	filters filterFlag
	fields  string
	k       int
	json    bool
}

func runQuery(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var f queryFlags
	fs := flag.NewFlagSet("catalog query", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f.register(fs)
	fs.StringVar(&f.text, "text", "", "query text")
	fs.Var(&f.filters, "filter", "tag filter field=value (repeatable)")
	fs.StringVar(&f.fields, "fields", "", "comma-separated fields to return (default: all)")
	fs.IntVar(&f.k, "k", index.DefaultNumResults, "number of results")
	fs.BoolVar(&f.json, "json", false, "print results as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if f.text == "" {
		fmt.Fprintln(stderr, "catalog query: --text is required")
		fs.Usage()
		return 2
	}

	matches, err := query(ctx, f, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "catalog query: %v\n", err)
		return 1
	}
	if f.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if matches == nil {
			matches = []index.Match{}
		}
		enc.Encode(matches)
		return 0
	}
	printMatches(stdout, matches)
	return 0
}

func query(ctx context.Context, f queryFlags, stderr io.Writer) ([]index.Match, error) {
	cfg, log, err := f.setup(stderr)
	if err != nil {
		return nil, err
	}
	filters, err := search.ParseFilters(f.filters)
	if err != nil {
		return nil, err
	}
	s, err := loadSchema(cfg.Index.Schema)
	if err != nil {
		return nil, err
	}
	emb, err := newEmbedder(cfg.Embedding, s, log)
	if err != nil {
		return nil, err
	}
	idx, err := openIndex(ctx, cfg.Index.URL, s, false)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	svc := search.New(emb, idx, nil, log)
	return svc.Search(ctx, search.Request{
		Text:    f.text,
		Filters: filters,
		Fields:  search.ParseFields(f.fields),
		K:       f.k,
	})
}

func printMatches(w io.Writer, matches []index.Match) {
	if len(matches) == 0 {
		fmt.Fprintln(w, "no matches")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tKEY\tDISTANCE\tFIELDS")
	for i, m := range matches {
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%s\n", i+1, m.Key, m.Distance, formatFields(m.Fields))
	}
	tw.Flush()
}

func formatFields(r domain.Record) string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	out := ""
	for i, k := range names {
		if i > 0 {
			out += " "
		}
		out += k + "=" + formatValue(r[k])
	}
	return out
}

func formatValue(v any) string {
	if list, ok := v.([]any); ok {
		b, _ := json.Marshal(list)
		return string(b)
	}
	return fmt.Sprintf("%q", domain.Stringify(v))
}
