package pgvector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/catalog-vectors/engine/index"
	"github.com/WessleyAI/catalog-vectors/engine/schema"
)

func TestFormatVector(t *testing.T) {
	assert.Equal(t, "[0.5,-1,3.25]", formatVector([]float32{0.5, -1, 3.25}))
	assert.Equal(t, "[]", formatVector(nil))
}

func TestTableName(t *testing.T) {
	s := schema.Books()
	name, err := tableName(s)
	require.NoError(t, err)
	assert.Equal(t, "book_index", name)

	s.Index.Name = "books; DROP TABLE x"
	_, err = tableName(s)
	assert.ErrorIs(t, err, schema.ErrInvalidSchema)
}

func TestBuildQuery(t *testing.T) {
	sql, args := buildQuery("book_index", schema.DistanceCosine, index.Query{
		Vector:     []float32{1, 0},
		Filters:    map[string]string{"genres": "Fantasy", "editions": "1st"},
		NumResults: 3,
	})
	assert.Contains(t, sql, "(embedding <=> $1::vector) AS distance FROM book_index WHERE")
	assert.Contains(t, sql, "doc->$2::text @> jsonb_build_array($3::text)")
	assert.Contains(t, sql, "ORDER BY distance LIMIT $6")
	assert.Equal(t, []any{"[1,0]", "editions", "1st", "genres", "Fantasy", 3}, args)
}

func TestBuildQueryDefaults(t *testing.T) {
	sql, args := buildQuery("t", schema.DistanceL2, index.Query{Vector: []float32{1}})
	assert.NotContains(t, sql, "WHERE")
	assert.Contains(t, sql, "<->")
	assert.Equal(t, index.DefaultNumResults, args[len(args)-1])
}

func TestMigrations(t *testing.T) {
	s := schema.Books()
	stmts := migrations(s, "book_index")
	assert.Contains(t, stmts[1], "vector(384)")
	assert.Len(t, stmts, 3)

	s.Fields[len(s.Fields)-1].Attrs.Algorithm = schema.AlgorithmHNSW
	s.Fields[len(s.Fields)-1].Attrs.DistanceMetric = schema.DistanceIP
	stmts = migrations(s, "book_index")
	require.Len(t, stmts, 4)
	assert.Contains(t, stmts[3], "vector_ip_ops")
}
