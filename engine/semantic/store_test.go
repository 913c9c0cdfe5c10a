package semantic

import (
	"context"
	"errors"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// --- Mocks ---

type mockPoints struct {
	upserted   *pb.UpsertPoints
	upsertErr  error
	deleted    *pb.DeletePoints
	deleteErr  error
	searched   *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserted = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleted = in
	return &pb.PointsOperationResponse{}, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searched = in
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	created   *pb.CreateCollection
	createErr error
	deleteErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return &pb.CollectionOperationResponse{Result: true}, m.deleteErr
}

// --- Tests ---

func TestEnsureCollection(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{
		Collections: []*pb.CollectionDescription{{Name: "other"}},
	}}
	vs := NewWithClients(&mockPoints{}, cols, "chunks")
	if err := vs.EnsureCollection(context.Background(), 1536); err != nil {
		t.Fatal(err)
	}
	if cols.created == nil || cols.created.GetVectorsConfig().GetParams().GetSize() != 1536 {
		t.Fatalf("created = %v", cols.created)
	}

	cols = &mockCollections{listResp: &pb.ListCollectionsResponse{
		Collections: []*pb.CollectionDescription{{Name: "chunks"}},
	}}
	vs = NewWithClients(&mockPoints{}, cols, "chunks")
	if err := vs.EnsureCollection(context.Background(), 4); err != nil || cols.created != nil {
		t.Fatalf("existing collection recreated: %v", err)
	}
}

func TestEnsureCollectionErrors(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("rpc fail")}, "c")
	if err := vs.EnsureCollection(context.Background(), 4); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	vs = NewWithClients(&mockPoints{}, &mockCollections{listResp: &pb.ListCollectionsResponse{}, createErr: errors.New("no")}, "c")
	if err := vs.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsertDeterministicIDs(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "c")
	chunk := domain.ContentChunk{
		Source: domain.SourceBlog, SourceID: "blog/a.md", ChunkIndex: 2,
		Title: "A", Text: "body", PublishedAt: time.Unix(1700000000, 0),
		Metadata: map[string]string{"category": "how-to"},
	}
	if err := vs.Upsert(context.Background(), []Point{{Chunk: chunk, Vector: []float32{1, 0}}}); err != nil {
		t.Fatal(err)
	}
	got := pts.upserted.GetPoints()[0]
	if got.GetId().GetUuid() != PointID(domain.SourceBlog, "blog/a.md", 2) {
		t.Fatalf("id = %s", got.GetId().GetUuid())
	}
	p := got.GetPayload()
	if p["source"].GetStringValue() != "blog" || p["chunk_index"].GetIntegerValue() != 2 || p["meta_category"].GetStringValue() != "how-to" {
		t.Fatalf("payload = %v", p)
	}
	if p["published_at"].GetIntegerValue() != 1700000000 {
		t.Fatalf("published_at = %v", p["published_at"])
	}
}

func TestUpsertEmptyAndError(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, "c")
	if err := vs.Upsert(context.Background(), nil); err != nil || pts.upserted != nil {
		t.Fatal("empty upsert should not call qdrant")
	}
	if err := vs.Upsert(context.Background(), []Point{{Chunk: domain.ContentChunk{Source: domain.SourceForum}}}); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestPointID(t *testing.T) {
	a := PointID(domain.SourceForum, "12", 0)
	if a != PointID(domain.SourceForum, "12", 0) {
		t.Fatal("not deterministic")
	}
	for _, other := range []string{
		PointID(domain.SourceForum, "12", 1),
		PointID(domain.SourceForum, "13", 0),
		PointID(domain.SourceBlog, "12", 0),
	} {
		if other == a {
			t.Fatal("ids collide across chunks")
		}
	}
}

func TestDeleteFrom(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "c")
	if err := vs.DeleteFrom(context.Background(), domain.SourceVideo, "vid", 3); err != nil {
		t.Fatal(err)
	}
	must := pts.deleted.GetPoints().GetFilter().GetMust()
	if len(must) != 3 {
		t.Fatalf("conditions = %d", len(must))
	}
	r := must[2].GetField().GetRange()
	if must[2].GetField().GetKey() != "chunk_index" || r.GetGte() != 3 {
		t.Fatalf("range = %v", must[2])
	}
}

func TestSearch(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{{
		Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
		Score: 0.9,
		Payload: map[string]*pb.Value{
			"source":        stringValue("forum"),
			"source_id":     stringValue("12"),
			"chunk_index":   {Kind: &pb.Value_IntegerValue{IntegerValue: 1}},
			"text":          stringValue("Question: sync?"),
			"published_at":  {Kind: &pb.Value_IntegerValue{IntegerValue: 1700000000}},
			"meta_topic_id": stringValue("12"),
		},
	}}}}
	vs := NewWithClients(pts, &mockCollections{}, "c")
	hits, err := vs.Search(context.Background(), []float32{1}, SearchOpts{Sources: []domain.SourceKind{domain.SourceForum, domain.SourceBlog}, Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	kw := pts.searched.GetFilter().GetMust()[0].GetField().GetMatch().GetKeywords().GetStrings()
	if len(kw) != 2 || kw[0] != "forum" || pts.searched.GetLimit() != 5 {
		t.Fatalf("request = %v", pts.searched)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d", len(hits))
	}
	h := hits[0]
	if h.ID != "p1" || h.Chunk.Source != domain.SourceForum || h.Chunk.ChunkIndex != 1 || h.Chunk.Metadata["topic_id"] != "12" {
		t.Fatalf("hit = %+v", h)
	}
	if !h.Chunk.PublishedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("published = %v", h.Chunk.PublishedAt)
	}
	if d := h.Distance(); d < 0.099 || d > 0.101 {
		t.Fatalf("distance = %v", d)
	}
}

func TestSearchUnfiltered(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "c")
	hits, err := vs.Search(context.Background(), []float32{1}, SearchOpts{})
	if err != nil || len(hits) != 0 {
		t.Fatalf("hits=%v err=%v", hits, err)
	}
	if pts.searched.GetFilter() != nil || pts.searched.GetLimit() != 10 {
		t.Fatalf("request = %v", pts.searched)
	}
	pts.searchErr = errors.New("down")
	if _, err := vs.Search(context.Background(), []float32{1}, SearchOpts{}); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}
