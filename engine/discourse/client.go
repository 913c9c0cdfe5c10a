// Package discourse reads topics from a Discourse forum's JSON API.
package discourse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/pkg/fn"
	"github.com/WessleyAI/forumlens/pkg/resilience"
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	APIUsername string
	UserAgent   string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// RateLimitBackoff is the sleep after a 429 without Retry-After.
	RateLimitBackoff time.Duration
	// MaxRateLimitRetries caps 429 retries of one request.
	MaxRateLimitRetries int
	// PostBatch is how many post ids one posts.json request asks for.
	PostBatch int
	// Retry governs retries of transport errors and 5xx responses.
	Retry fn.RetryOpts
}

func (c *Config) defaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.UserAgent == "" {
		c.UserAgent = "forumlens/1.0 (+forum analysis)"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = 30 * time.Second
	}
	if c.MaxRateLimitRetries <= 0 {
		c.MaxRateLimitRetries = 5
	}
	if c.PostBatch <= 0 {
		c.PostBatch = 20
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = fn.RetryOpts{MaxAttempts: 3, InitialWait: 2 * time.Second, MaxWait: 20 * time.Second, Jitter: true}
	}
}

// Client fetches Discourse JSON. Every request, retries included, waits on
// the shared limiter first.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter resilience.Waiter
	sleep   func(context.Context, time.Duration) error
	log     *slog.Logger
}

// New creates a Client. A nil limiter defaults to one request per second.
func New(cfg Config, limiter resilience.Waiter, log *slog.Logger) *Client {
	cfg.defaults()
	if limiter == nil {
		limiter = resilience.Every(time.Second)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
		sleep:   sleepCtx,
		log:     log.With("component", "discourse"),
	}
}

// Latest fetches one page of latest.json. Pages start at 0.
func (c *Client) Latest(ctx context.Context, page int) fn.Result[LatestPage] {
	body, err := c.get(ctx, "/latest.json?page="+strconv.Itoa(page)).Unwrap()
	if err != nil {
		return fn.Err[LatestPage](err)
	}
	var lr latestResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return fn.Err[LatestPage](fmt.Errorf("discourse: decode latest page %d: %w: %w", page, domain.ErrParse, err))
	}
	return fn.Ok(LatestPage{
		Page:   page,
		Topics: lr.TopicList.Topics,
		More:   lr.TopicList.MoreTopicsURL != "",
	})
}

// Topic fetches a topic with its complete post stream.
func (c *Client) Topic(ctx context.Context, topicID int64) fn.Result[FetchedTopic] {
	body, err := c.get(ctx, fmt.Sprintf("/t/%d.json", topicID)).Unwrap()
	if err != nil {
		return fn.Err[FetchedTopic](err)
	}
	var tr topicResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fn.Err[FetchedTopic](fmt.Errorf("discourse: decode topic %d: %w: %w", topicID, domain.ErrParse, err))
	}

	rawPosts := tr.PostStream.Posts
	missing := missingPostIDs(rawPosts, tr.PostStream.Stream)
	for _, batch := range fn.Chunk(missing, c.cfg.PostBatch) {
		more, err := c.posts(ctx, topicID, batch)
		if err != nil {
			return fn.Err[FetchedTopic](err)
		}
		rawPosts = append(rawPosts, more...)
	}

	posts, err := decodePosts(rawPosts)
	if err != nil {
		return fn.Err[FetchedTopic](err)
	}
	raw := json.RawMessage(body)
	if len(missing) > 0 {
		raw, err = withPosts(body, rawPosts)
		if err != nil {
			return fn.Err[FetchedTopic](err)
		}
	}
	return fn.Ok(FetchedTopic{Topic: tr.normalize(posts), Raw: raw})
}

func (c *Client) posts(ctx context.Context, topicID int64, ids []int64) ([]json.RawMessage, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("post_ids[]", strconv.FormatInt(id, 10))
	}
	body, err := c.get(ctx, fmt.Sprintf("/t/%d/posts.json?%s", topicID, q.Encode())).Unwrap()
	if err != nil {
		return nil, err
	}
	var pr postsResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("discourse: decode posts of %d: %w: %w", topicID, domain.ErrParse, err)
	}
	return pr.PostStream.Posts, nil
}

// missingPostIDs lists stream ids absent from the embedded posts, in
// stream order.
func missingPostIDs(posts []json.RawMessage, stream []int64) []int64 {
	have := make(map[int64]bool, len(posts))
	for _, p := range posts {
		var id struct {
			ID int64 `json:"id"`
		}
		if json.Unmarshal(p, &id) == nil {
			have[id.ID] = true
		}
	}
	var out []int64
	for _, id := range stream {
		if !have[id] {
			out = append(out, id)
		}
	}
	return out
}

// withPosts rewrites post_stream.posts of a topic payload, keeping every
// other field as Discourse sent it.
func withPosts(body []byte, posts []json.RawMessage) (json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("discourse: rewrite payload: %w: %w", domain.ErrParse, err)
	}
	var stream map[string]json.RawMessage
	if ps, ok := top["post_stream"]; ok {
		if err := json.Unmarshal(ps, &stream); err != nil {
			return nil, fmt.Errorf("discourse: rewrite post_stream: %w: %w", domain.ErrParse, err)
		}
	}
	if stream == nil {
		stream = map[string]json.RawMessage{}
	}
	sorted := slices.Clone(posts)
	slices.SortStableFunc(sorted, func(a, b json.RawMessage) int { return postNumber(a) - postNumber(b) })
	var err error
	if stream["posts"], err = json.Marshal(sorted); err != nil {
		return nil, err
	}
	if top["post_stream"], err = json.Marshal(stream); err != nil {
		return nil, err
	}
	return json.Marshal(top)
}

func postNumber(raw json.RawMessage) int {
	var p struct {
		PostNumber int `json:"post_number"`
	}
	_ = json.Unmarshal(raw, &p)
	return p.PostNumber
}

// httpError is a non-2xx response other than 404 and 429.
type httpError struct {
	Status int
	Path   string
}

func (e *httpError) Error() string { return fmt.Sprintf("http %d from %s", e.Status, e.Path) }

func (e *httpError) Unwrap() error { return domain.ErrNetwork }

// transient reports whether err is worth retrying: transport failures and
// 5xx responses.
func transient(err error) bool {
	var he *httpError
	if errors.As(err, &he) {
		return he.Status >= 500
	}
	return errors.Is(err, domain.ErrNetwork) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) get(ctx context.Context, path string) fn.Result[[]byte] {
	opts := c.cfg.Retry
	opts.Retryable = transient
	opts.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.log.Warn("retrying request", "path", path, "attempt", attempt, "wait", wait, "err", err)
	}
	return fn.Retry(ctx, opts, func(ctx context.Context) fn.Result[[]byte] {
		return c.getOnce(ctx, path)
	})
}

// getOnce performs one logical GET: the public attempt, the authenticated
// repeat on 401/403, and any 429 sleeps.
func (c *Client) getOnce(ctx context.Context, path string) fn.Result[[]byte] {
	authed := false
	rateLimited := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return fn.Err[[]byte](err)
		}
		resp, err := c.doGet(ctx, path, authed)
		if err != nil {
			return fn.Err[[]byte](fmt.Errorf("discourse: GET %s: %w: %w", path, domain.ErrNetwork, err))
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return fn.Err[[]byte](fmt.Errorf("discourse: read %s: %w: %w", path, domain.ErrNetwork, err))
			}
			return fn.Ok(body)

		case resp.StatusCode == http.StatusNotFound:
			drain(resp)
			return fn.Err[[]byte](fmt.Errorf("discourse: %s: %w", path, domain.ErrNotFound))

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(resp.Header.Get("Retry-After"), c.cfg.RateLimitBackoff)
			drain(resp)
			rateLimited++
			if rateLimited > c.cfg.MaxRateLimitRetries {
				return fn.Err[[]byte](fmt.Errorf("discourse: %s after %d retries: %w", path, c.cfg.MaxRateLimitRetries, domain.ErrRateLimited))
			}
			c.log.Warn("rate limited", "path", path, "wait", wait, "retry", rateLimited)
			if err := c.sleep(ctx, wait); err != nil {
				return fn.Err[[]byte](err)
			}

		case (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) && !authed && c.hasAuth():
			drain(resp)
			authed = true

		default:
			drain(resp)
			return fn.Err[[]byte](fmt.Errorf("discourse: %w", &httpError{Status: resp.StatusCode, Path: path}))
		}
	}
}

func (c *Client) doGet(ctx context.Context, path string, authed bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if authed {
		req.Header.Set("Api-Key", c.cfg.APIKey)
		req.Header.Set("Api-Username", c.cfg.APIUsername)
	}
	return c.http.Do(req)
}

func (c *Client) hasAuth() bool { return c.cfg.APIKey != "" && c.cfg.APIUsername != "" }

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date, falling back to def.
func retryAfter(h string, def time.Duration) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return def
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return def
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
