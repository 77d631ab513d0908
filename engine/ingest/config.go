package ingest

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
	"github.com/WessleyAI/catalog-vectors/engine/schema"
)

// DefaultBatchSize is the number of records embedded and submitted together.
const DefaultBatchSize = 128

// Policy decides what happens to a record with empty text or a failed
// embedding. Dimension mismatches always fail the batch.
type Policy string

const (
	// PolicySkip drops the record from its batch and counts it as skipped.
	PolicySkip Policy = "skip"
	// PolicyFail rejects the whole batch.
	PolicyFail Policy = "fail"
)

// ParsePolicy parses "skip" or "fail".
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicySkip, PolicyFail:
		return p, nil
	case "":
		return PolicySkip, nil
	}
	return "", fmt.Errorf("ingest: unknown invalid-record policy %q (want skip or fail)", s)
}

// Config controls batching and record handling.
type Config struct {
	BatchSize   int
	Workers     int    // embedding goroutines per run; <= 0 means runtime.NumCPU()
	TextField   string // field embedded for each record
	IDField     string // identifier used in logs and errors
	VectorField string // field the embedding is written to
	Dims        int    // required embedding length
	OnInvalid   Policy
}

// ConfigFromSchema derives the vector field, dimensionality and id field from
// an index schema and fills the remaining defaults.
func ConfigFromSchema(s *schema.Schema) Config {
	cfg := Config{
		VectorField: s.Vector().Name,
		Dims:        s.Dims(),
		IDField:     s.Index.KeyField,
	}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.TextField == "" {
		c.TextField = domain.DefaultTextField
	}
	if c.IDField == "" {
		c.IDField = domain.DefaultIDField
	}
	if c.VectorField == "" {
		c.VectorField = domain.DefaultVectorField
	}
	if c.OnInvalid == "" {
		c.OnInvalid = PolicySkip
	}
}

func (c Config) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("ingest: batch size must be positive, got %d", c.BatchSize)
	}
	if c.Dims <= 0 {
		return fmt.Errorf("ingest: vector dims must be positive, got %d", c.Dims)
	}
	if c.OnInvalid != PolicySkip && c.OnInvalid != PolicyFail {
		return fmt.Errorf("ingest: unknown invalid-record policy %q", c.OnInvalid)
	}
	return nil
}
