// Package schema describes a search index: its name and key prefix, and the
// tag, text, numeric and vector fields it indexes. Schemas are read from YAML
// in the layout redisvl uses.
package schema

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldKind is the index type of a field.
type FieldKind string

const (
	KindTag     FieldKind = "tag"
	KindText    FieldKind = "text"
	KindNumeric FieldKind = "numeric"
	KindVector  FieldKind = "vector"
)

// Distance metrics.
const (
	DistanceCosine = "cosine"
	DistanceL2     = "l2"
	DistanceIP     = "ip"
)

// Vector index algorithms.
const (
	AlgorithmFlat = "flat"
	AlgorithmHNSW = "hnsw"
)

var (
	ErrInvalidSchema = errors.New("invalid schema")
	ErrInvalidFilter = errors.New("invalid filter")
)

// Schema is the static description of a document index.
type Schema struct {
	Index  IndexSpec `yaml:"index"`
	Fields []Field   `yaml:"fields"`
}

// IndexSpec names the index and the prefix used to build record keys.
// KeyField is the record field whose value becomes the key suffix.
type IndexSpec struct {
	Name        string `yaml:"name"`
	Prefix      string `yaml:"prefix"`
	StorageType string `yaml:"storage_type,omitempty"` // "json" | "hash"
	KeyField    string `yaml:"key_field,omitempty"`
}

// Field is one indexed field.
type Field struct {
	Name  string       `yaml:"name"`
	Type  FieldKind    `yaml:"type"`
	Path  string       `yaml:"path,omitempty"`
	Attrs *VectorAttrs `yaml:"attrs,omitempty"`
}

// VectorAttrs parameterises a vector field.
type VectorAttrs struct {
	Dims           int    `yaml:"dims"`
	DistanceMetric string `yaml:"distance_metric"`
	Algorithm      string `yaml:"algorithm"`
	Datatype       string `yaml:"datatype"`
}

// Load reads and validates a schema file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML schema.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}
	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Marshal encodes the schema as YAML.
func (s *Schema) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

func (s *Schema) normalize() {
	if s.Index.Prefix == "" {
		s.Index.Prefix = s.Index.Name
	}
	if s.Index.StorageType == "" {
		s.Index.StorageType = "json"
	}
	if s.Index.KeyField == "" {
		s.Index.KeyField = "id"
	}
	for i := range s.Fields {
		f := &s.Fields[i]
		f.Type = FieldKind(strings.ToLower(string(f.Type)))
		if f.Attrs == nil {
			continue
		}
		f.Attrs.DistanceMetric = strings.ToLower(f.Attrs.DistanceMetric)
		f.Attrs.Algorithm = strings.ToLower(f.Attrs.Algorithm)
		f.Attrs.Datatype = strings.ToLower(f.Attrs.Datatype)
		if f.Attrs.DistanceMetric == "" {
			f.Attrs.DistanceMetric = DistanceCosine
		}
		if f.Attrs.Algorithm == "" {
			f.Attrs.Algorithm = AlgorithmFlat
		}
		if f.Attrs.Datatype == "" {
			f.Attrs.Datatype = "float32"
		}
	}
}

// Validate checks names, kinds and vector parameters. Exactly one vector
// field is required.
func (s *Schema) Validate() error {
	if s.Index.Name == "" {
		return fmt.Errorf("%w: index name is empty", ErrInvalidSchema)
	}
	seen := make(map[string]bool, len(s.Fields))
	vectors := 0
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field with empty name", ErrInvalidSchema)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
		}
		seen[f.Name] = true

		switch f.Type {
		case KindTag, KindText, KindNumeric:
		case KindVector:
			vectors++
			if err := f.Attrs.validate(f.Name); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidSchema, f.Name, f.Type)
		}
	}
	if vectors != 1 {
		return fmt.Errorf("%w: expected exactly one vector field, found %d", ErrInvalidSchema, vectors)
	}
	return nil
}

func (a *VectorAttrs) validate(name string) error {
	if a == nil {
		return fmt.Errorf("%w: vector field %q has no attrs", ErrInvalidSchema, name)
	}
	if a.Dims <= 0 {
		return fmt.Errorf("%w: vector field %q dims must be positive", ErrInvalidSchema, name)
	}
	switch a.DistanceMetric {
	case DistanceCosine, DistanceL2, DistanceIP:
	default:
		return fmt.Errorf("%w: vector field %q distance metric %q", ErrInvalidSchema, name, a.DistanceMetric)
	}
	switch a.Algorithm {
	case AlgorithmFlat, AlgorithmHNSW:
	default:
		return fmt.Errorf("%w: vector field %q algorithm %q", ErrInvalidSchema, name, a.Algorithm)
	}
	if a.Datatype != "float32" {
		return fmt.Errorf("%w: vector field %q datatype %q (only float32)", ErrInvalidSchema, name, a.Datatype)
	}
	return nil
}

// Vector returns the vector field.
func (s *Schema) Vector() Field {
	for _, f := range s.Fields {
		if f.Type == KindVector {
			return f
		}
	}
	return Field{}
}

// Dims returns the declared vector dimensionality.
func (s *Schema) Dims() int {
	if v := s.Vector(); v.Attrs != nil {
		return v.Attrs.Dims
	}
	return 0
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldsOf returns the fields of the given kind in declaration order.
func (s *Schema) FieldsOf(kind FieldKind) []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}

// Key builds the storage key of a record id.
func (s *Schema) Key(id string) string {
	return s.Index.Prefix + ":" + id
}

// CheckFilters verifies every filter names a tag field.
func (s *Schema) CheckFilters(filters map[string]string) error {
	for name := range filters {
		f, ok := s.Field(name)
		if !ok {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, name)
		}
		if f.Type != KindTag {
			return fmt.Errorf("%w: %s field %q, only tag fields can be filtered", ErrInvalidFilter, f.Type, name)
		}
	}
	return nil
}
