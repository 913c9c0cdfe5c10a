package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/engine/retrieval"
	"github.com/WessleyAI/forumlens/engine/store"
	"github.com/WessleyAI/forumlens/pkg/metrics"
	"github.com/WessleyAI/forumlens/pkg/mid"
)

type fakeQuerier struct {
	results []retrieval.Result
	text    string
	err     error
	got     retrieval.Query
}

func (f *fakeQuerier) Search(_ context.Context, q retrieval.Query) ([]retrieval.Result, error) {
	f.got = q
	return f.results, f.err
}

func (f *fakeQuerier) Context(_ context.Context, q retrieval.Query) (string, []retrieval.Result, error) {
	f.got = q
	return f.text, f.results, f.err
}

type fakeStats struct{ st store.Stats }

func (f fakeStats) Stats(context.Context) (store.Stats, error) { return f.st, nil }

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h := newHandler(&fakeQuerier{}, nil, metrics.New(), quietLog())
	rec := do(t, h, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
	if rec.Header().Get(mid.RequestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
}

func TestSearchEndpoint(t *testing.T) {
	q := &fakeQuerier{results: []retrieval.Result{{
		Chunk:    domain.ContentChunk{Source: domain.SourceForum, SourceID: "12", Title: "Sync fails"},
		Distance: 0.2,
		Score:    0.8,
	}}}
	h := newHandler(q, nil, metrics.New(), quietLog())
	rec := do(t, h, "POST", "/v1/search", `{"query":"sync","sources":["forum"],"top_k":3,"recency_weight":0.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if q.got.Text != "sync" || q.got.TopK != 3 || q.got.RecencyWeight != 0.5 || len(q.got.Sources) != 1 {
		t.Fatalf("query = %+v", q.got)
	}
	var resp SearchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Chunk.SourceID != "12" {
		t.Fatalf("results = %+v", resp.Results)
	}
}

func TestSearchEmptyResultsIsArray(t *testing.T) {
	h := newHandler(&fakeQuerier{}, nil, metrics.New(), quietLog())
	rec := do(t, h, "POST", "/v1/search", `{"query":"nothing"}`)
	if !strings.Contains(rec.Body.String(), `"results":[]`) {
		t.Fatalf("body = %s", rec.Body)
	}
}

func TestSearchInvalidBody(t *testing.T) {
	h := newHandler(&fakeQuerier{}, nil, metrics.New(), quietLog())
	for _, body := range []string{"not json", `{"question":"old field"}`} {
		rec := do(t, h, "POST", "/v1/search", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestSearchErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("retrieval: %w", domain.ErrEmptyQuery), http.StatusBadRequest},
		{domain.NewValidationError("sources", "wiki", domain.ErrInvalidSource), http.StatusBadRequest},
		{fmt.Errorf("embed: %w", domain.ErrRateLimited), http.StatusTooManyRequests},
		{fmt.Errorf("search: %w", domain.ErrNetwork), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newHandler(&fakeQuerier{err: tc.err}, nil, metrics.New(), quietLog())
		rec := do(t, h, "POST", "/v1/search", `{"query":"x"}`)
		if rec.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	h := newHandler(&fakeQuerier{err: errors.New("password=hunter2")}, nil, metrics.New(), quietLog())
	rec := do(t, h, "POST", "/v1/search", `{"query":"x"}`)
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatalf("error detail leaked: %s", rec.Body)
	}
}

func TestContextEndpoint(t *testing.T) {
	q := &fakeQuerier{text: "[1] forum: Sync fails\n", results: []retrieval.Result{{Score: 1}}}
	h := newHandler(q, nil, metrics.New(), quietLog())
	rec := do(t, h, "POST", "/v1/context", `{"query":"sync"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp ContextResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Context != q.text || len(resp.Results) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestStatsRouteOptional(t *testing.T) {
	h := newHandler(&fakeQuerier{}, nil, metrics.New(), quietLog())
	if rec := do(t, h, "GET", "/v1/stats", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a database, got %d", rec.Code)
	}

	h = newHandler(&fakeQuerier{}, fakeStats{store.Stats{Topics: 4, Analyzed: 3, Pending: 1, QAPairs: 9}}, metrics.New(), quietLog())
	rec := do(t, h, "GET", "/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st store.Stats
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Pending != 1 || st.QAPairs != 9 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHandler(&fakeQuerier{}, nil, metrics.New(), quietLog())
	if rec := do(t, h, "GET", "/v1/search", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMetricsRecorded(t *testing.T) {
	reg := metrics.New()
	h := newHandler(&fakeQuerier{}, nil, reg, quietLog())
	do(t, h, "POST", "/v1/search", `{"query":"x"}`)
	do(t, h, "GET", "/nope", "")

	rec := do(t, h, "GET", "/metrics", "")
	body := rec.Body.String()
	for _, want := range []string{
		`forumlens_http_requests_total{path="/v1/search",status="200"} 1`,
		`forumlens_http_requests_total{path="unmatched",status="404"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s:\n%s", want, body)
		}
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), quietLog()) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func TestDecodeQueryLimit(t *testing.T) {
	h := newHandler(&fakeQuerier{}, nil, metrics.New(), quietLog())
	big := `{"query":"` + strings.Repeat("a", 2<<20) + `"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/search", bytes.NewBufferString(big)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
}
