// Package qdrant implements index.DocumentIndex on a Qdrant collection over
// gRPC. Point ids are UUIDs derived from document keys, so reloading a record
// overwrites its point.
package qdrant

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
	"github.com/WessleyAI/catalog-vectors/engine/index"
	"github.com/WessleyAI/catalog-vectors/engine/schema"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// KeyPayload is the payload field holding the document key.
const KeyPayload = "_key"

// DefaultPort is Qdrant's gRPC port.
const DefaultPort = "6334"

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Index is a Qdrant-backed document index. The collection is named after the
// schema's index name.
type Index struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	schema      *schema.Schema
}

var _ index.DocumentIndex = (*Index)(nil)

// Open dials Qdrant. rawURL is qdrant://host[:port]; a bare host:port is
// accepted too.
func Open(rawURL string) (*Index, error) {
	addr, err := address(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	idx := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn))
	idx.conn = conn
	return idx, nil
}

// NewWithClients builds an Index on existing gRPC clients.
func NewWithClients(points pointsAPI, collections collectionsAPI) *Index {
	return &Index{points: points, collections: collections}
}

func address(rawURL string) (string, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "qdrant://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("qdrant: parse url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("qdrant: no host in %q", rawURL)
	}
	port := u.Port()
	if port == "" {
		port = DefaultPort
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Close closes the underlying gRPC connection.
func (q *Index) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// EnsureSchema creates the collection and its payload indexes. An existing
// collection is kept if its vector size and distance agree with s; overwrite
// drops and recreates it.
func (q *Index) EnsureSchema(ctx context.Context, s *schema.Schema, overwrite bool) error {
	if err := s.Validate(); err != nil {
		return err
	}
	name := s.Index.Name
	distance, err := qdrantDistance(s.Vector().Attrs.DistanceMetric)
	if err != nil {
		return err
	}

	exists, err := q.exists(ctx, name)
	if err != nil {
		return err
	}
	if exists && overwrite {
		if _, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); err != nil {
			return fmt.Errorf("qdrant: delete collection %s: %w", name, err)
		}
		exists = false
	}
	if exists {
		info, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
		if err != nil {
			return fmt.Errorf("qdrant: get collection %s: %w", name, err)
		}
		params := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
		if params.GetSize() != uint64(s.Dims()) || params.GetDistance() != distance {
			return fmt.Errorf("%w: collection %s has size %d distance %s", index.ErrSchemaConflict, name, params.GetSize(), params.GetDistance())
		}
		q.schema = s
		return nil
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.Dims()),
					Distance: distance,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", name, err)
	}

	wait := true
	for _, f := range s.Fields {
		ft, ok := fieldType(f.Type)
		if !ok {
			continue
		}
		_, err := q.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: name,
			Wait:           &wait,
			FieldName:      f.Name,
			FieldType:      &ft,
		})
		if err != nil {
			return fmt.Errorf("qdrant: index field %s: %w", f.Name, err)
		}
	}
	q.schema = s
	return nil
}

func (q *Index) exists(ctx context.Context, name string) (bool, error) {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return true, nil
		}
	}
	return false, nil
}

// Load upserts records and returns their keys in order.
func (q *Index) Load(ctx context.Context, records []domain.Record) ([]string, error) {
	docs, err := index.Prepare(q.schema, records)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	points := make([]*pb.PointStruct, len(docs))
	for i, d := range docs {
		payload := make(map[string]*pb.Value, len(d.Fields)+1)
		for k, v := range d.Fields {
			payload[k] = toValue(v)
		}
		payload[KeyPayload] = toValue(d.Key)
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: index.PointID(d.Key)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: d.Vector},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err = q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.schema.Index.Name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: upsert %d points: %w", len(points), err)
	}
	return index.Keys(docs), nil
}

// Query runs a k-NN search with keyword filters on tag fields.
func (q *Index) Query(ctx context.Context, query index.Query) ([]index.Match, error) {
	if q.schema == nil {
		return nil, index.ErrNoSchema
	}
	if err := q.schema.CheckFilters(query.Filters); err != nil {
		return nil, err
	}
	if err := domain.CheckDims(query.Vector, q.schema.Dims()); err != nil {
		return nil, fmt.Errorf("qdrant: query vector: %w: %v", domain.ErrDimensionMismatch, err)
	}

	req := &pb.SearchPoints{
		CollectionName: q.schema.Index.Name,
		Vector:         query.Vector,
		Limit:          uint64(query.Limit()),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(query.Filters) > 0 {
		must := make([]*pb.Condition, 0, len(query.Filters))
		for k, v := range query.Filters {
			must = append(must, fieldMatch(k, v))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	metric := q.schema.Vector().Attrs.DistanceMetric
	matches := make([]index.Match, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		fields := make(domain.Record, len(r.GetPayload()))
		key := ""
		for k, v := range r.GetPayload() {
			if k == KeyPayload {
				key = v.GetStringValue()
				continue
			}
			fields[k] = fromValue(v)
		}
		matches = append(matches, index.Match{
			Key:      key,
			Distance: scoreToDistance(metric, r.GetScore()),
			Fields:   index.Project(fields, query.ReturnFields),
		})
	}
	return index.Rank(matches, query.Limit()), nil
}

func qdrantDistance(metric string) (pb.Distance, error) {
	switch metric {
	case schema.DistanceCosine:
		return pb.Distance_Cosine, nil
	case schema.DistanceL2:
		return pb.Distance_Euclid, nil
	case schema.DistanceIP:
		return pb.Distance_Dot, nil
	}
	return 0, fmt.Errorf("qdrant: unsupported distance metric %q", metric)
}

// scoreToDistance turns Qdrant's score (similarity for cosine and dot,
// distance for euclid) into an ascending distance.
func scoreToDistance(metric string, score float32) float32 {
	if metric == schema.DistanceL2 {
		return score
	}
	return 1 - score
}

func fieldType(kind schema.FieldKind) (pb.FieldType, bool) {
	switch kind {
	case schema.KindTag:
		return pb.FieldType_FieldTypeKeyword, true
	case schema.KindText:
		return pb.FieldType_FieldTypeText, true
	case schema.KindNumeric:
		return pb.FieldType_FieldTypeFloat, true
	}
	return 0, false
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
