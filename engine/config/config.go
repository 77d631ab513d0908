// Package config loads the catalog configuration file and applies
// environment overrides. Command-line flags are applied on top by cmd/catalog.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/catalog-vectors/engine/embed"
	"github.com/WessleyAI/catalog-vectors/engine/ingest"
	"github.com/WessleyAI/catalog-vectors/pkg/ollama"
)

// Config is the full catalog configuration.
type Config struct {
	Index     Index        `yaml:"index"`
	Embedding embed.Config `yaml:"embedding"`
	Loader    Loader       `yaml:"loader"`
	NATS      NATS         `yaml:"nats"`
	Neo4j     Neo4j        `yaml:"neo4j"`
	Metrics   Metrics      `yaml:"metrics"`
	Server    Server       `yaml:"server"`
}

// Index locates the document index and its schema.
type Index struct {
	URL       string `yaml:"url"`
	Schema    string `yaml:"schema"` // empty uses the built-in book schema
	Overwrite bool   `yaml:"overwrite"`
}

type Loader struct {
	BatchSize int    `yaml:"batch_size"`
	Workers   int    `yaml:"workers"`
	TextField string `yaml:"text_field"`
	OnInvalid string `yaml:"on_invalid"`
}

// NATS enables load events when URL is set.
type NATS struct {
	URL string `yaml:"url"`
}

// Neo4j enables the catalog graph projection when URL is set.
type Neo4j struct {
	URL  string `yaml:"url"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

type Metrics struct {
	Addr string `yaml:"addr"` // empty disables the metrics listener during loads
}

type Server struct {
	Addr       string `yaml:"addr"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Index: Index{URL: "qdrant://localhost:6334"},
		Embedding: embed.Config{
			Provider:         embed.ProviderOllama,
			URL:              ollama.DefaultURL,
			Model:            ollama.DefaultModel,
			Retries:          3,
			RetryWait:        200 * time.Millisecond,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Loader: Loader{
			BatchSize: ingest.DefaultBatchSize,
			OnInvalid: string(ingest.PolicySkip),
		},
		Neo4j:  Neo4j{User: "neo4j"},
		Server: Server{Addr: ":8080", CORSOrigin: "*"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Index.URL = envOr("CATALOG_INDEX_URL", c.Index.URL)
	c.Index.Schema = envOr("CATALOG_SCHEMA", c.Index.Schema)
	switch c.Embedding.Provider {
	case "", embed.ProviderOllama:
		c.Embedding.URL = envOr("OLLAMA_URL", c.Embedding.URL)
	case embed.ProviderOpenAI:
		c.Embedding.URL = envOr("OPENAI_BASE_URL", c.Embedding.URL)
		c.Embedding.APIKey = envOr("OPENAI_API_KEY", c.Embedding.APIKey)
	}
	c.NATS.URL = envOr("NATS_URL", c.NATS.URL)
	c.Neo4j.URL = envOr("NEO4J_URL", c.Neo4j.URL)
	c.Neo4j.User = envOr("NEO4J_USER", c.Neo4j.User)
	c.Neo4j.Pass = envOr("NEO4J_PASS", c.Neo4j.Pass)
	c.Metrics.Addr = envOr("METRICS_ADDR", c.Metrics.Addr)
	if v, err := strconv.Atoi(os.Getenv("CATALOG_BATCH_SIZE")); err == nil {
		c.Loader.BatchSize = v
	}
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	if c.Index.URL == "" {
		errs = append(errs, errors.New("index.url is required"))
	}
	if c.Loader.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("loader.batch_size must be positive, got %d", c.Loader.BatchSize))
	}
	if _, err := ingest.ParsePolicy(c.Loader.OnInvalid); err != nil {
		errs = append(errs, err)
	}
	if c.Embedding.RPS < 0 {
		errs = append(errs, fmt.Errorf("embedding.rps must not be negative, got %g", c.Embedding.RPS))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// IngestConfig merges the loader section into cfg, which carries the
// schema-derived fields.
func (c Config) IngestConfig(cfg ingest.Config) (ingest.Config, error) {
	policy, err := ingest.ParsePolicy(c.Loader.OnInvalid)
	if err != nil {
		return ingest.Config{}, err
	}
	cfg.BatchSize = c.Loader.BatchSize
	cfg.Workers = c.Loader.Workers
	cfg.OnInvalid = policy
	if c.Loader.TextField != "" {
		cfg.TextField = c.Loader.TextField
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
