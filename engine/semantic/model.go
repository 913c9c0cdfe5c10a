package semantic

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// Point is a content chunk with its embedding.
type Point struct {
	Chunk  domain.ContentChunk
	Vector []float32
}

// Hit is one nearest-neighbour result. Score is cosine similarity.
type Hit struct {
	ID    string
	Score float32
	Chunk domain.ContentChunk
}

// Distance returns the cosine distance of the hit, 1 - similarity.
func (h Hit) Distance() float64 { return 1 - float64(h.Score) }

// PointID derives the point id of a chunk from (source, source_id,
// chunk_index), so re-ingesting a chunk overwrites its previous vector.
func PointID(source domain.SourceKind, sourceID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("forumlens:%s/%s/%d", source, sourceID, chunkIndex))).String()
}

// Payload keys.
const (
	keySource      = "source"
	keySourceID    = "source_id"
	keyChunkIndex  = "chunk_index"
	keyTitle       = "title"
	keyText        = "text"
	keyPublishedAt = "published_at"
	metaPrefix     = "meta_"
)
