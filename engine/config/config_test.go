package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/catalog-vectors/engine/embed"
	"github.com/WessleyAI/catalog-vectors/engine/ingest"
	"github.com/WessleyAI/catalog-vectors/engine/schema"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CATALOG_INDEX_URL", "CATALOG_SCHEMA", "CATALOG_BATCH_SIZE", "OLLAMA_URL",
		"OPENAI_BASE_URL", "OPENAI_API_KEY", "NATS_URL", "NEO4J_URL", "NEO4J_USER", "NEO4J_PASS", "METRICS_ADDR"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "qdrant://localhost:6334", cfg.Index.URL)
	assert.Equal(t, ingest.DefaultBatchSize, cfg.Loader.BatchSize)
	assert.Equal(t, embed.ProviderOllama, cfg.Embedding.Provider)
	assert.Equal(t, 3, cfg.Embedding.Retries)
	assert.Empty(t, cfg.NATS.URL)
	assert.Empty(t, cfg.Neo4j.URL)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
index:
  url: sqlite:///var/lib/catalog/books.db
  schema: schema.yaml
  overwrite: true
embedding:
  provider: openai
  url: http://localhost:8081
  model: sentence-transformers/all-MiniLM-L6-v2
  rps: 20
  retry_wait: 1s
loader:
  batch_size: 64
  workers: 4
  on_invalid: fail
nats:
  url: nats://localhost:4222
neo4j:
  url: neo4j://localhost:7687
  pass: secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///var/lib/catalog/books.db", cfg.Index.URL)
	assert.True(t, cfg.Index.Overwrite)
	assert.Equal(t, embed.ProviderOpenAI, cfg.Embedding.Provider)
	assert.Equal(t, 20.0, cfg.Embedding.RPS)
	assert.Equal(t, time.Second, cfg.Embedding.RetryWait)
	assert.Equal(t, 3, cfg.Embedding.Retries, "unset keys keep defaults")
	assert.Equal(t, 64, cfg.Loader.BatchSize)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "neo4j", cfg.Neo4j.User)
	assert.Equal(t, "secret", cfg.Neo4j.Pass)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CATALOG_INDEX_URL", "mem://")
	t.Setenv("OLLAMA_URL", "http://ollama:11434")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("NEO4J_URL", "neo4j://graph:7687")
	t.Setenv("NEO4J_USER", "reader")
	t.Setenv("CATALOG_BATCH_SIZE", "32")

	cfg, err := Load(writeFile(t, "index:\n  url: qdrant://file:6334\n"))
	require.NoError(t, err)
	assert.Equal(t, "mem://", cfg.Index.URL)
	assert.Equal(t, "http://ollama:11434", cfg.Embedding.URL)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, "neo4j://graph:7687", cfg.Neo4j.URL)
	assert.Equal(t, "reader", cfg.Neo4j.User)
	assert.Equal(t, 32, cfg.Loader.BatchSize)
}

func TestOllamaURLIgnoredForOpenAI(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_URL", "http://ollama:11434")
	cfg, err := Load(writeFile(t, "embedding:\n  provider: openai\n  url: http://tei:8080\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://tei:8080", cfg.Embedding.URL)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config: read")

	_, err = Load(writeFile(t, "loader: [not, a, map]\n"))
	assert.ErrorContains(t, err, "config: parse")

	_, err = Load(writeFile(t, "loader:\n  batch_size: -1\n  on_invalid: explode\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size must be positive")
	assert.Contains(t, err.Error(), "explode")
}

func TestIngestConfig(t *testing.T) {
	cfg := Default()
	cfg.Loader.BatchSize = 50
	cfg.Loader.Workers = 2
	cfg.Loader.OnInvalid = "fail"
	cfg.Loader.TextField = "summary"

	got, err := cfg.IngestConfig(ingest.ConfigFromSchema(schema.Books()))
	require.NoError(t, err)
	assert.Equal(t, 50, got.BatchSize)
	assert.Equal(t, 2, got.Workers)
	assert.Equal(t, ingest.PolicyFail, got.OnInvalid)
	assert.Equal(t, "summary", got.TextField)
	assert.Equal(t, 384, got.Dims)
	assert.Equal(t, "embedding", got.VectorField)
}
