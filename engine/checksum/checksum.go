// Package checksum computes the change-detection digest of a forum topic.
//
// The digest covers the fields that change when a thread is edited or gains
// replies: title, post count, last activity, and a short preview of every
// post. Two snapshots with the same digest are treated as identical and are
// not re-stored.
package checksum

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// PreviewRunes is how much of each post body contributes to the digest.
const PreviewRunes = 100

// Field order is alphabetical so the canonical form reads the same as a
// sorted-key dump of the same data.
type postPreview struct {
	ContentPreview string `json:"content_preview"`
	CreatedAt      string `json:"created_at"`
	ID             int64  `json:"id"`
	Username       string `json:"username"`
}

type canonical struct {
	LastPostedAt string        `json:"last_posted_at"`
	PostCount    int           `json:"post_count"`
	PostsPreview []postPreview `json:"posts_preview"`
	Title        string        `json:"title"`
	TopicID      int64         `json:"topic_id"`
}

// Compute returns the 32-character lowercase hex MD5 of t's canonical form.
// It is pure: the same topic always yields the same digest.
func Compute(t domain.Topic) string {
	sum := md5.Sum(Canonical(t))
	return hex.EncodeToString(sum[:])
}

// Canonical returns the exact bytes Compute hashes.
func Canonical(t domain.Topic) []byte {
	c := canonical{
		LastPostedAt: t.LastPostedAt,
		PostCount:    t.PostsCount,
		PostsPreview: make([]postPreview, 0, len(t.Posts)),
		Title:        t.Title,
		TopicID:      t.ID,
	}
	for _, p := range t.Posts {
		c.PostsPreview = append(c.PostsPreview, postPreview{
			ContentPreview: preview(p.Cooked),
			CreatedAt:      p.CreatedAt,
			ID:             p.ID,
			Username:       p.Username,
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding plain structs of strings and ints cannot fail.
	_ = enc.Encode(c)
	return bytes.TrimRight(buf.Bytes(), "\n")
}

func preview(s string) string {
	n := 0
	for i := range s {
		if n == PreviewRunes {
			return s[:i]
		}
		n++
	}
	return s
}
