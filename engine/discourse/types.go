package discourse

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// TopicRef is one entry of a latest.json page.
type TopicRef struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Slug         string `json:"slug"`
	CategoryID   int    `json:"category_id"`
	PostsCount   int    `json:"posts_count"`
	LastPostedAt string `json:"last_posted_at"`
}

// LatestPage is a decoded latest.json response.
type LatestPage struct {
	Page   int
	Topics []TopicRef
	// More is true when Discourse advertises a further page.
	More bool
}

// FetchedTopic is a topic as normalized for the pipeline plus the raw
// payload to persist. Raw carries every post, including those fetched
// beyond the first page of the post stream.
type FetchedTopic struct {
	Topic domain.Topic
	Raw   json.RawMessage
}

type latestResponse struct {
	TopicList struct {
		Topics        []TopicRef `json:"topics"`
		MoreTopicsURL string     `json:"more_topics_url"`
	} `json:"topic_list"`
}

type topicResponse struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	FancyTitle   string  `json:"fancy_title"`
	Slug         string  `json:"slug"`
	CategoryID   int     `json:"category_id"`
	PostsCount   int     `json:"posts_count"`
	CreatedAt    string  `json:"created_at"`
	LastPostedAt string  `json:"last_posted_at"`
	Tags         tagList `json:"tags"`
	PostStream   struct {
		Posts  []json.RawMessage `json:"posts"`
		Stream []int64           `json:"stream"`
	} `json:"post_stream"`
}

type postsResponse struct {
	PostStream struct {
		Posts []json.RawMessage `json:"posts"`
	} `json:"post_stream"`
}

// tagList accepts both the legacy ["a","b"] form and the newer
// [{"name":"a"}] form of topic tags.
type tagList []string

func (t *tagList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(r, &obj); err != nil {
			return err
		}
		out = append(out, obj.Name)
	}
	*t = out
	return nil
}

// DecodeTopic normalizes a stored t/{id}.json payload.
func DecodeTopic(raw []byte) (domain.Topic, error) {
	var tr topicResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return domain.Topic{}, fmt.Errorf("discourse: decode topic: %w: %w", domain.ErrParse, err)
	}
	posts, err := decodePosts(tr.PostStream.Posts)
	if err != nil {
		return domain.Topic{}, err
	}
	return tr.normalize(posts), nil
}

func (tr topicResponse) normalize(posts []domain.Post) domain.Topic {
	title := tr.Title
	if title == "" {
		title = tr.FancyTitle
	}
	return domain.Topic{
		ID:           tr.ID,
		Title:        title,
		Slug:         tr.Slug,
		CategoryID:   tr.CategoryID,
		PostsCount:   tr.PostsCount,
		CreatedAt:    tr.CreatedAt,
		LastPostedAt: tr.LastPostedAt,
		Tags:         []string(tr.Tags),
		Posts:        posts,
	}
}

func decodePosts(raw []json.RawMessage) ([]domain.Post, error) {
	posts := make([]domain.Post, 0, len(raw))
	for _, r := range raw {
		var p domain.Post
		if err := json.Unmarshal(r, &p); err != nil {
			return nil, fmt.Errorf("discourse: decode post: %w: %w", domain.ErrParse, err)
		}
		posts = append(posts, p)
	}
	slices.SortStableFunc(posts, func(a, b domain.Post) int { return a.PostNumber - b.PostNumber })
	return posts, nil
}
