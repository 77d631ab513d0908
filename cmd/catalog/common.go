package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/WessleyAI/catalog-vectors/engine/config"
	"github.com/WessleyAI/catalog-vectors/engine/embed"
	"github.com/WessleyAI/catalog-vectors/engine/index"
	"github.com/WessleyAI/catalog-vectors/engine/index/backend"
	"github.com/WessleyAI/catalog-vectors/engine/schema"
)

// commonFlags are shared by every subcommand. Set flags override the config
// file and the environment.
type commonFlags struct {
	config   string
	logLevel string
	indexURL string
	schema   string
	provider string
	embedURL string
	model    string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "YAML config file")
	fs.StringVar(&c.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&c.indexURL, "index-url", "", "index URL (qdrant://, postgres://, sqlite://, mem://)")
	fs.StringVar(&c.schema, "schema", "", "index schema YAML (default: built-in book schema)")
	fs.StringVar(&c.provider, "embedder", "", "embedding provider: ollama, openai, hash")
	fs.StringVar(&c.embedURL, "embed-url", "", "embedding service base URL")
	fs.StringVar(&c.model, "model", "", "embedding model")
}

// setup loads configuration, applies flags and builds the logger.
func (c *commonFlags) setup(stderr io.Writer) (config.Config, *slog.Logger, error) {
	level, err := parseLevel(c.logLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(c.config)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg.Index.URL = orDefault(c.indexURL, cfg.Index.URL)
	cfg.Index.Schema = orDefault(c.schema, cfg.Index.Schema)
	cfg.Embedding.Provider = orDefault(c.provider, cfg.Embedding.Provider)
	cfg.Embedding.URL = orDefault(c.embedURL, cfg.Embedding.URL)
	cfg.Embedding.Model = orDefault(c.model, cfg.Embedding.Model)
	return cfg, log, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid --log-level %q", s)
	}
	return l, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return schema.Books(), nil
	}
	return schema.Load(path)
}

// newEmbedder builds the configured embedder. The hash provider follows the
// schema's dimensionality unless configured otherwise.
func newEmbedder(cfg embed.Config, s *schema.Schema, log *slog.Logger) (*embed.Guard, error) {
	if cfg.Provider == embed.ProviderHash && cfg.Dims == 0 {
		cfg.Dims = s.Dims()
	}
	return embed.New(cfg, log)
}

// openIndex connects to the index and ensures its schema.
func openIndex(ctx context.Context, url string, s *schema.Schema, overwrite bool) (index.DocumentIndex, error) {
	idx, err := backend.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := idx.EnsureSchema(ctx, s, overwrite); err != nil {
		idx.Close()
		return nil, err
	}
	return idx, nil
}

// filterFlag collects repeated --filter field=value flags.
type filterFlag []string

func (f *filterFlag) String() string { return strings.Join(*f, ",") }

func (f *filterFlag) Set(v string) error {
	if !strings.Contains(v, "=") {
		return errors.New("want field=value")
	}
	*f = append(*f, v)
	return nil
}
