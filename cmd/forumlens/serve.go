package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/engine/retrieval"
	"github.com/WessleyAI/forumlens/engine/store"
	"github.com/WessleyAI/forumlens/pkg/metrics"
	"github.com/WessleyAI/forumlens/pkg/mid"
)

// Querier answers retrieval queries.
type Querier interface {
	Search(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error)
	Context(ctx context.Context, q retrieval.Query) (string, []retrieval.Result, error)
}

// StatsSource reports topic counts.
type StatsSource interface {
	Stats(ctx context.Context) (store.Stats, error)
}

func serveCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve retrieval over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			svc, err := a.retrieval(ctx)
			if err != nil {
				return err
			}
			var stats StatsSource
			if a.cfg.DatabaseURL != "" {
				pool, err := a.db(ctx, 0)
				if err != nil {
					return err
				}
				stats = store.NewTopics(pool)
			}
			return serve(ctx, addr, newHandler(svc, stats, a.reg, a.log), a.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	return cmd
}

func serve(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("query server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// newHandler builds the query API. stats may be nil, in which case
// /v1/stats is not registered.
func newHandler(q Querier, stats StatsSource, reg *metrics.Registry, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("POST /v1/search", handleSearch(q, log))
	mux.HandleFunc("POST /v1/context", handleContext(q, log))
	if stats != nil {
		mux.HandleFunc("GET /v1/stats", handleStats(stats, log))
	}

	return mid.Chain(mux,
		mid.Recover(log),
		mid.RequestID(),
		mid.Logger(log),
		mid.Metrics(reg),
		mid.OTel("forumlens"),
	)
}

// SearchResponse is the body of POST /v1/search.
type SearchResponse struct {
	Results []retrieval.Result `json:"results"`
}

// ContextResponse is the body of POST /v1/context.
type ContextResponse struct {
	Context string             `json:"context"`
	Results []retrieval.Result `json:"results"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleSearch(q Querier, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, ok := decodeQuery(w, r)
		if !ok {
			return
		}
		results, err := q.Search(r.Context(), query)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if results == nil {
			results = []retrieval.Result{}
		}
		writeJSON(w, http.StatusOK, SearchResponse{Results: results})
	}
}

func handleContext(q Querier, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, ok := decodeQuery(w, r)
		if !ok {
			return
		}
		text, results, err := q.Context(r.Context(), query)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if results == nil {
			results = []retrieval.Result{}
		}
		writeJSON(w, http.StatusOK, ContextResponse{Context: text, Results: results})
	}
}

func handleStats(s StatsSource, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.Stats(r.Context())
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (retrieval.Query, bool) {
	var q retrieval.Query
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return q, false
	}
	return q, true
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors to status codes. Only client errors echo
// the message.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery), errors.Is(err, domain.ErrInvalidSource):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limited"})
	case errors.Is(err, domain.ErrNetwork):
		log.Error("upstream failure", "path", r.URL.Path, "request_id", mid.RequestIDFrom(r.Context()), "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "upstream unavailable"})
	default:
		log.Error("request failed", "path", r.URL.Path, "request_id", mid.RequestIDFrom(r.Context()), "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
