package content

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/forumlens/engine/chunk"
	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/pkg/fn"
	"github.com/WessleyAI/forumlens/pkg/resilience"
)

const (
	defaultPlayerURL = "https://www.youtube.com/youtubei/v1/player?prettyPrint=false"
	defaultAPIBase   = "https://www.googleapis.com/youtube/v3"
	androidUA        = "com.google.android.youtube/19.09.37 (Linux; U; Android 11) gzip"
)

// VideoMeta describes a video found by ChannelVideos.
type VideoMeta struct {
	VideoID     string
	Title       string
	Channel     string
	PublishedAt time.Time
}

// YouTube lists channel uploads through the Data API and fetches timed
// captions through the innertube player endpoint.
type YouTube struct {
	apiKey    string
	playerURL string
	apiBase   string
	client    *http.Client
	limiter   resilience.Waiter
}

// NewYouTube creates a client. apiKey is only needed for ChannelVideos.
// limiter may be nil.
func NewYouTube(apiKey string, limiter resilience.Waiter) *YouTube {
	if limiter == nil {
		limiter = resilience.Every(200 * time.Millisecond)
	}
	return &YouTube{
		apiKey:    apiKey,
		playerURL: defaultPlayerURL,
		apiBase:   defaultAPIBase,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
	}
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			PublishedAt  string `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
}

// ChannelVideos returns up to limit of the channel's most recent videos.
func (y *YouTube) ChannelVideos(ctx context.Context, channelID string, limit int) fn.Result[[]VideoMeta] {
	if y.apiKey == "" {
		return fn.Err[[]VideoMeta](fmt.Errorf("content: youtube api key required: %w", domain.ErrConfiguration))
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	params := url.Values{
		"part":       {"snippet"},
		"channelId":  {channelID},
		"type":       {"video"},
		"order":      {"date"},
		"maxResults": {strconv.Itoa(limit)},
		"key":        {y.apiKey},
	}
	body, err := y.do(ctx, http.MethodGet, y.apiBase+"/search?"+params.Encode(), nil)
	if err != nil {
		return fn.Err[[]VideoMeta](err)
	}
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return fn.Err[[]VideoMeta](fmt.Errorf("content: decode search: %w: %w", domain.ErrParse, err))
	}
	videos := make([]VideoMeta, 0, len(sr.Items))
	for _, it := range sr.Items {
		if it.ID.VideoID == "" {
			continue
		}
		pub, _ := time.Parse(time.RFC3339, it.Snippet.PublishedAt)
		videos = append(videos, VideoMeta{
			VideoID:     it.ID.VideoID,
			Title:       html.UnescapeString(it.Snippet.Title),
			Channel:     it.Snippet.ChannelTitle,
			PublishedAt: pub,
		})
	}
	return fn.Ok(videos)
}

type captionTrack struct {
	BaseURL string `json:"baseUrl"`
	Lang    string `json:"languageCode"`
	Kind    string `json:"kind"`
}

// Transcript fetches the timed captions of v, preferring manual English
// captions over generated ones and English over other languages.
func (y *YouTube) Transcript(ctx context.Context, v VideoMeta) fn.Result[Transcript] {
	tracks, err := y.captionTracks(ctx, v.VideoID)
	if err != nil {
		return fn.Err[Transcript](err)
	}
	var lastErr error
	for _, u := range rankTracks(tracks) {
		segs, err := y.timedText(ctx, u)
		if err != nil {
			lastErr = err
			continue
		}
		if len(segs) == 0 {
			continue
		}
		return fn.Ok(Transcript{
			VideoID:     v.VideoID,
			Title:       v.Title,
			Channel:     v.Channel,
			URL:         "https://www.youtube.com/watch?v=" + v.VideoID,
			PublishedAt: v.PublishedAt,
			Segments:    segs,
		})
	}
	if lastErr != nil {
		return fn.Err[Transcript](lastErr)
	}
	return fn.Err[Transcript](fmt.Errorf("content: no transcript for %s: %w", v.VideoID, domain.ErrNotFound))
}

func rankTracks(tracks []captionTrack) []string {
	var manual, asr, other []string
	for _, t := range tracks {
		u := t.BaseURL + "&fmt=srv3"
		switch {
		case strings.HasPrefix(t.Lang, "en") && t.Kind != "asr":
			manual = append(manual, u)
		case strings.HasPrefix(t.Lang, "en"):
			asr = append(asr, u)
		default:
			other = append(other, u)
		}
	}
	return append(append(manual, asr...), other...)
}

func (y *YouTube) captionTracks(ctx context.Context, videoID string) ([]captionTrack, error) {
	payload := map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":        "ANDROID",
				"clientVersion":     "19.09.37",
				"androidSdkVersion": 30,
				"hl":                "en",
				"gl":                "US",
			},
		},
		"videoId":        videoID,
		"contentCheckOk": true,
	}
	reqBody, _ := json.Marshal(payload)
	body, err := y.do(ctx, http.MethodPost, y.playerURL, reqBody)
	if err != nil {
		return nil, err
	}
	var result struct {
		Captions struct {
			Renderer struct {
				CaptionTracks []captionTrack `json:"captionTracks"`
			} `json:"playerCaptionsTracklistRenderer"`
		} `json:"captions"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("content: decode player response: %w: %w", domain.ErrParse, err)
	}
	tracks := result.Captions.Renderer.CaptionTracks
	if len(tracks) == 0 {
		return nil, fmt.Errorf("content: no caption tracks for %s: %w", videoID, domain.ErrNotFound)
	}
	return tracks, nil
}

// srv3: <timedtext><body><p t="ms" d="ms">text or <s> spans</p>
type timedText struct {
	Body struct {
		Paragraphs []struct {
			Start int      `xml:"t,attr"`
			Dur   int      `xml:"d,attr"`
			Text  string   `xml:",chardata"`
			Spans []string `xml:"s"`
		} `xml:"p"`
	} `xml:"body"`
}

// legacy: <transcript><text start="s" dur="s">text</text>
type legacyTimedText struct {
	Texts []struct {
		Start string `xml:"start,attr"`
		Dur   string `xml:"dur,attr"`
		Text  string `xml:",chardata"`
	} `xml:"text"`
}

func (y *YouTube) timedText(ctx context.Context, u string) ([]chunk.Segment, error) {
	body, err := y.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return ParseTimedText(body)
}

// ParseTimedText decodes srv3 or legacy timed-text XML into segments.
// Noise-only captions such as "[Music]" are dropped.
func ParseTimedText(body []byte) ([]chunk.Segment, error) {
	var segs []chunk.Segment
	add := func(start, dur float64, text string) {
		if text = CleanCaption(text); text != "" {
			segs = append(segs, chunk.Segment{Start: start, Duration: dur, Text: text})
		}
	}

	var tt timedText
	if err := xml.Unmarshal(body, &tt); err == nil && len(tt.Body.Paragraphs) > 0 {
		for _, p := range tt.Body.Paragraphs {
			text := p.Text
			if len(p.Spans) > 0 {
				text = strings.Join(p.Spans, "")
			}
			add(float64(p.Start)/1000, float64(p.Dur)/1000, text)
		}
		return segs, nil
	}

	var legacy legacyTimedText
	if err := xml.Unmarshal(body, &legacy); err == nil && len(legacy.Texts) > 0 {
		for _, t := range legacy.Texts {
			start, _ := strconv.ParseFloat(t.Start, 64)
			dur, _ := strconv.ParseFloat(t.Dur, 64)
			add(start, dur, t.Text)
		}
		return segs, nil
	}
	return nil, fmt.Errorf("content: no text entries in timed text: %w", domain.ErrParse)
}

var (
	bracketNoise = regexp.MustCompile(`\[(?:Music|Applause|Laughter|Cheering|Inaudible)\]`)
	multiSpace   = regexp.MustCompile(`\s+`)
)

// CleanCaption removes bracketed noise, decodes entities and collapses
// whitespace.
func CleanCaption(text string) string {
	text = html.UnescapeString(text)
	text = bracketNoise.ReplaceAllString(text, "")
	text = multiSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func (y *YouTube) do(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("content: %w: %w", domain.ErrConfiguration, err)
	}
	req.Header.Set("User-Agent", androidUA)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content: %s: %w: %w", req.URL.Host, domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("content: read %s: %w: %w", req.URL.Host, domain.ErrNetwork, err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return data, nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("content: %s: status %d: %w", req.URL.Host, resp.StatusCode, domain.ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("content: %s: %w", req.URL.Host, domain.ErrNotFound)
	}
	return nil, fmt.Errorf("content: %s: status %d: %w", req.URL.Host, resp.StatusCode, domain.ErrNetwork)
}
