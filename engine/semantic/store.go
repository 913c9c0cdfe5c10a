// Package semantic stores content chunk embeddings in a Qdrant collection
// and serves nearest-neighbour search over them.
package semantic

import (
	"context"
	"fmt"
	"strings"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/forumlens/engine/domain"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the unified embeddings table: one collection holding
// forum, blog and video chunks, told apart by the source payload field.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w: %w", addr, domain.ErrNetwork, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients creates a VectorStore over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w: %w", domain.ErrNetwork, err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w: %w", v.collection, domain.ErrNetwork, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	if _, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.collection}); err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w: %w", v.collection, domain.ErrNetwork, err)
	}
	return nil
}

// Upsert writes points keyed by PointID. Existing points for the same
// chunk are overwritten.
func (v *VectorStore) Upsert(ctx context.Context, pts []Point) error {
	if len(pts) == 0 {
		return nil
	}
	out := make([]*pb.PointStruct, len(pts))
	for i, p := range pts {
		c := p.Chunk
		out[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(c.Source, c.SourceID, c.ChunkIndex)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: payloadOf(c),
		}
	}

	wait := true
	if _, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         out,
	}); err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w: %w", len(pts), domain.ErrNetwork, err)
	}
	return nil
}

// DeleteFrom removes the chunks of one source item whose index is at least
// fromIndex. Re-ingesting an item that now has fewer chunks uses it to drop
// the trailing ones.
func (v *VectorStore) DeleteFrom(ctx context.Context, source domain.SourceKind, sourceID string, fromIndex int) error {
	gte := float64(fromIndex)
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch(keySource, string(source)),
						fieldMatch(keySourceID, sourceID),
						fieldRange(keyChunkIndex, &pb.Range{Gte: &gte}),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete %s/%s from %d: %w: %w", source, sourceID, fromIndex, domain.ErrNetwork, err)
	}
	return nil
}

// SearchOpts narrows a search.
type SearchOpts struct {
	// Sources restricts hits to these kinds; empty means all.
	Sources []domain.SourceKind
	Limit   int
}

// Search performs k-NN similarity search.
func (v *VectorStore) Search(ctx context.Context, vector []float32, opts SearchOpts) ([]Hit, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(opts.Limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(opts.Sources) > 0 {
		kinds := make([]string, len(opts.Sources))
		for i, s := range opts.Sources {
			kinds[i] = string(s)
		}
		req.Filter = &pb.Filter{Must: []*pb.Condition{fieldAny(keySource, kinds)}}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w: %w", domain.ErrNetwork, err)
	}
	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = Hit{
			ID:    r.GetId().GetUuid(),
			Score: r.GetScore(),
			Chunk: chunkOf(r.GetPayload()),
		}
	}
	return hits, nil
}

func payloadOf(c domain.ContentChunk) map[string]*pb.Value {
	p := map[string]*pb.Value{
		keySource:     stringValue(string(c.Source)),
		keySourceID:   stringValue(c.SourceID),
		keyChunkIndex: {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.ChunkIndex)}},
		keyTitle:      stringValue(c.Title),
		keyText:       stringValue(c.Text),
	}
	if !c.PublishedAt.IsZero() {
		p[keyPublishedAt] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: c.PublishedAt.Unix()}}
	}
	for k, val := range c.Metadata {
		p[metaPrefix+k] = stringValue(val)
	}
	return p
}

func chunkOf(payload map[string]*pb.Value) domain.ContentChunk {
	c := domain.ContentChunk{Metadata: make(map[string]string)}
	for k, val := range payload {
		switch k {
		case keySource:
			c.Source = domain.SourceKind(val.GetStringValue())
		case keySourceID:
			c.SourceID = val.GetStringValue()
		case keyChunkIndex:
			c.ChunkIndex = int(val.GetIntegerValue())
			if c.ChunkIndex == 0 {
				c.ChunkIndex = int(val.GetDoubleValue())
			}
		case keyTitle:
			c.Title = val.GetStringValue()
		case keyText:
			c.Text = val.GetStringValue()
		case keyPublishedAt:
			if ts := val.GetIntegerValue(); ts > 0 {
				c.PublishedAt = time.Unix(ts, 0).UTC()
			}
		default:
			if strings.HasPrefix(k, metaPrefix) {
				c.Metadata[strings.TrimPrefix(k, metaPrefix)] = val.GetStringValue()
			}
		}
	}
	return c
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func fieldAny(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{MatchValue: &pb.Match_Keywords{
					Keywords: &pb.RepeatedStrings{Strings: values},
				}},
			},
		},
	}
}

func fieldRange(key string, r *pb.Range) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Range: r},
		},
	}
}
