package qdrant

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
	"github.com/WessleyAI/catalog-vectors/engine/index"
	"github.com/WessleyAI/catalog-vectors/engine/schema"
)

// --- Mocks ---

type mockPoints struct {
	upserts    []*pb.UpsertPoints
	upsertErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
	indexed    []string
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserts = append(m.upserts, in)
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}

func (m *mockPoints) CreateFieldIndex(_ context.Context, in *pb.CreateFieldIndexCollection, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.indexed = append(m.indexed, in.GetFieldName())
	return &pb.PointsOperationResponse{}, nil
}

type mockCollections struct {
	names   []string
	size    uint64
	dist    pb.Distance
	created *pb.CreateCollection
	deleted []string
	listErr error
}

func (m *mockCollections) List(context.Context, *pb.ListCollectionsRequest, ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	resp := &pb.ListCollectionsResponse{}
	for _, n := range m.names {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (m *mockCollections) Get(context.Context, *pb.GetCollectionInfoRequest, ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	return &pb.GetCollectionInfoResponse{Result: &pb.CollectionInfo{Config: &pb.CollectionConfig{Params: &pb.CollectionParams{
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{Size: m.size, Distance: m.dist}}},
	}}}}, nil
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (m *mockCollections) Delete(_ context.Context, in *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.deleted = append(m.deleted, in.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func smallSchema() *schema.Schema {
	s := schema.Books()
	s.Fields[len(s.Fields)-1].Attrs.Dims = 2
	return s
}

func ready(t *testing.T) (*Index, *mockPoints) {
	t.Helper()
	pts := &mockPoints{}
	idx := NewWithClients(pts, &mockCollections{})
	require.NoError(t, idx.EnsureSchema(context.Background(), smallSchema(), false))
	return idx, pts
}

// --- Tests ---

func TestAddress(t *testing.T) {
	for in, want := range map[string]string{
		"qdrant://db":         "db:6334",
		"qdrant://db:7000":    "db:7000",
		"localhost:6334":      "localhost:6334",
		"qdrant://[::1]:1234": "[::1]:1234",
	} {
		got, err := address(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := address("qdrant://")
	assert.Error(t, err)
}

func TestEnsureSchemaCreates(t *testing.T) {
	pts := &mockPoints{}
	cols := &mockCollections{}
	idx := NewWithClients(pts, cols)
	require.NoError(t, idx.EnsureSchema(context.Background(), smallSchema(), false))

	require.NotNil(t, cols.created)
	assert.Equal(t, "book_index", cols.created.GetCollectionName())
	params := cols.created.GetVectorsConfig().GetParams()
	assert.Equal(t, uint64(2), params.GetSize())
	assert.Equal(t, pb.Distance_Cosine, params.GetDistance())
	assert.Contains(t, pts.indexed, "genres")
	assert.NotContains(t, pts.indexed, "embedding")
	assert.NoError(t, idx.Close())
}

func TestEnsureSchemaKeepsMatching(t *testing.T) {
	cols := &mockCollections{names: []string{"book_index"}, size: 2, dist: pb.Distance_Cosine}
	idx := NewWithClients(&mockPoints{}, cols)
	require.NoError(t, idx.EnsureSchema(context.Background(), smallSchema(), false))
	assert.Nil(t, cols.created)
	assert.Empty(t, cols.deleted)
}

func TestEnsureSchemaConflict(t *testing.T) {
	cols := &mockCollections{names: []string{"book_index"}, size: 384, dist: pb.Distance_Cosine}
	idx := NewWithClients(&mockPoints{}, cols)
	err := idx.EnsureSchema(context.Background(), smallSchema(), false)
	assert.ErrorIs(t, err, index.ErrSchemaConflict)
}

func TestEnsureSchemaOverwrite(t *testing.T) {
	cols := &mockCollections{names: []string{"book_index"}, size: 384, dist: pb.Distance_Dot}
	idx := NewWithClients(&mockPoints{}, cols)
	require.NoError(t, idx.EnsureSchema(context.Background(), smallSchema(), true))
	assert.Equal(t, []string{"book_index"}, cols.deleted)
	assert.NotNil(t, cols.created)
}

func TestEnsureSchemaListError(t *testing.T) {
	idx := NewWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("unavailable")})
	assert.Error(t, idx.EnsureSchema(context.Background(), smallSchema(), false))
}

func TestLoad(t *testing.T) {
	idx, pts := ready(t)
	keys, err := idx.Load(context.Background(), []domain.Record{
		{"id": "1", "title": "Dune", "genres": []any{"Science Fiction", "Classics"}, "year_published": int64(1965), "embedding": []float32{1, 0}},
		{"id": "2", "title": "Emma", "genres": []any{"Romance"}, "score": 4.1, "embedding": []float32{0, 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"book:1", "book:2"}, keys)

	require.Len(t, pts.upserts, 1)
	points := pts.upserts[0].GetPoints()
	require.Len(t, points, 2)
	assert.Equal(t, index.PointID("book:1"), points[0].GetId().GetUuid())
	assert.Equal(t, []float32{1, 0}, points[0].GetVectors().GetVector().GetData())

	payload := points[0].GetPayload()
	assert.Equal(t, "book:1", payload[KeyPayload].GetStringValue())
	assert.Equal(t, int64(1965), payload["year_published"].GetIntegerValue())
	assert.Len(t, payload["genres"].GetListValue().GetValues(), 2)
	assert.NotContains(t, payload, "embedding")
}

func TestLoadDimensionMismatch(t *testing.T) {
	idx, pts := ready(t)
	_, err := idx.Load(context.Background(), []domain.Record{{"id": "1", "embedding": []float32{1, 0, 0}}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Empty(t, pts.upserts)
}

func TestLoadWithoutSchema(t *testing.T) {
	idx := NewWithClients(&mockPoints{}, &mockCollections{})
	_, err := idx.Load(context.Background(), []domain.Record{{"id": "1"}})
	assert.ErrorIs(t, err, index.ErrNoSchema)
}

func TestLoadUpsertError(t *testing.T) {
	idx, pts := ready(t)
	pts.upsertErr = errors.New("deadline exceeded")
	_, err := idx.Load(context.Background(), []domain.Record{{"id": "1", "embedding": []float32{1, 0}}})
	assert.ErrorContains(t, err, "deadline exceeded")
}

func TestQuery(t *testing.T) {
	idx, pts := ready(t)
	pts.searchResp = &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{Score: 0.75, Payload: map[string]*pb.Value{KeyPayload: toValue("book:2"), "title": toValue("Emma"), "author": toValue("Austen")}},
		{Score: 0.9, Payload: map[string]*pb.Value{KeyPayload: toValue("book:1"), "title": toValue("Dune"), "author": toValue("Herbert")}},
	}}

	matches, err := idx.Query(context.Background(), index.Query{
		Vector:       []float32{1, 0},
		Filters:      map[string]string{"genres": "Science Fiction"},
		ReturnFields: []string{"title"},
		NumResults:   3,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "book:1", matches[0].Key)
	assert.InDelta(t, 0.1, matches[0].Distance, 1e-6)
	assert.Equal(t, domain.Record{"title": "Dune"}, matches[0].Fields)

	assert.Equal(t, uint64(3), pts.searchReq.GetLimit())
	cond := pts.searchReq.GetFilter().GetMust()[0].GetField()
	assert.Equal(t, "genres", cond.GetKey())
	assert.Equal(t, "Science Fiction", cond.GetMatch().GetKeyword())
}

func TestQueryRejectsUnknownFilter(t *testing.T) {
	idx, _ := ready(t)
	_, err := idx.Query(context.Background(), index.Query{Vector: []float32{1, 0}, Filters: map[string]string{"title": "x"}})
	assert.Error(t, err)
}

func TestQueryDimensionMismatch(t *testing.T) {
	idx, _ := ready(t)
	_, err := idx.Query(context.Background(), index.Query{Vector: []float32{1}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestPayloadRoundTrip(t *testing.T) {
	in := map[string]any{"s": "x", "n": int64(3), "f": 2.5, "b": true, "l": []any{"a", int64(1)}, "m": map[string]any{"k": "v"}}
	for k, v := range in {
		assert.Equal(t, v, fromValue(toValue(v)), k)
	}
	assert.Equal(t, []any{"a", "b"}, fromValue(toValue([]string{"a", "b"})))
	assert.Nil(t, fromValue(toValue(nil)))
}

func TestScoreToDistance(t *testing.T) {
	assert.Equal(t, float32(2), scoreToDistance(schema.DistanceL2, 2))
	assert.InDelta(t, 0.25, scoreToDistance(schema.DistanceCosine, 0.75), 1e-6)
}
