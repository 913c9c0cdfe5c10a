package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"

	"github.com/WessleyAI/forumlens/engine/claim"
	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/engine/events"
	"github.com/WessleyAI/forumlens/engine/graph"
	"github.com/WessleyAI/forumlens/engine/ingest"
	"github.com/WessleyAI/forumlens/engine/llm"
	"github.com/WessleyAI/forumlens/engine/semantic"
	"github.com/WessleyAI/forumlens/engine/store"
	"github.com/WessleyAI/forumlens/pkg/config"
	"github.com/WessleyAI/forumlens/pkg/metrics"
	"github.com/WessleyAI/forumlens/pkg/ollama"
	"github.com/WessleyAI/forumlens/pkg/resilience"
)

// app holds the process-wide configuration and lazily opened connections.
// Everything opened through it is closed by close, in reverse order.
type app struct {
	cfg *config.Config
	log *slog.Logger
	reg *metrics.Registry

	pool    *pgxpool.Pool
	nc      *nats.Conn
	rdb     *redis.Client
	closers []func()
}

func (a *app) onClose(f func()) { a.closers = append(a.closers, f) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// db opens the connection pool. minConns raises DB_MAX_CONNS when a command
// needs more, e.g. one held connection per advisory-lock worker.
func (a *app) db(ctx context.Context, minConns int32) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	if err := a.cfg.Validate(config.NeedDatabase); err != nil {
		return nil, err
	}
	conns := a.cfg.DBMaxConns
	if conns < minConns {
		conns = minConns
	}
	pool, err := store.Open(ctx, a.cfg.DatabaseURL, conns)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.onClose(pool.Close)
	return pool, nil
}

// redis connects to REDIS_URL, or returns nil when it is unset.
func (a *app) redis(ctx context.Context) (*redis.Client, error) {
	if a.rdb != nil || a.cfg.RedisURL == "" {
		return a.rdb, nil
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w: %w", domain.ErrConfiguration, err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w: %w", domain.ErrNetwork, err)
	}
	a.rdb = rdb
	a.onClose(func() { rdb.Close() })
	return rdb, nil
}

// spacer combines an in-process limiter with a Redis slot on key, so that
// concurrent processes share one budget when REDIS_URL is set.
func (a *app) spacer(ctx context.Context, local resilience.Waiter, key string, interval time.Duration) (resilience.Waiter, error) {
	rdb, err := a.redis(ctx)
	if err != nil {
		return nil, err
	}
	if rdb == nil {
		return local, nil
	}
	return resilience.Chain{local, resilience.NewRedisSpacer(rdb, key, interval)}, nil
}

func (a *app) forumLimiter(ctx context.Context) (resilience.Waiter, error) {
	rps := a.cfg.Discourse.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	local := resilience.NewLimiter(resilience.LimiterOpts{Rate: rps, Burst: 1})
	return a.spacer(ctx, local, "forumlens:limit:discourse", time.Duration(float64(time.Second)/rps))
}

func (a *app) embedLimiter(ctx context.Context) (resilience.Waiter, error) {
	return a.spacer(ctx, resilience.Every(a.cfg.Embedding.Interval), "forumlens:limit:embed", a.cfg.Embedding.Interval)
}

// bus connects to NATS_URL. Without it the returned bus is a no-op.
func (a *app) bus() (*events.Bus, error) {
	if a.nc == nil && a.cfg.NATSURL != "" {
		nc, err := nats.Connect(a.cfg.NATSURL,
			nats.Name("forumlens"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					a.log.Warn("nats disconnected", "err", err)
				}
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("nats: connect: %w: %w", domain.ErrNetwork, err)
		}
		a.nc = nc
		a.onClose(func() {
			if err := nc.Drain(); err != nil {
				nc.Close()
			}
		})
	}
	return events.NewBus(a.nc, a.log), nil
}

func (a *app) completer(ctx context.Context) (llm.Completer, string, error) {
	if err := a.cfg.Validate(config.NeedLLM); err != nil {
		return nil, "", err
	}
	c := a.cfg.LLM
	model := c.Model
	if model == "" {
		model = llm.DefaultModel(c.Provider)
	}
	base, err := llm.NewCompleter(ctx, llm.Config{
		Provider:  c.Provider,
		Model:     model,
		APIKey:    c.APIKey,
		BaseURL:   c.BaseURL,
		MaxTokens: c.MaxTokens,
	})
	if err != nil {
		return nil, "", err
	}
	opts := resilience.DefaultBreakerOpts
	opts.OnStateChange = func(from, to resilience.State) {
		a.log.Warn("llm circuit state changed", "from", from, "to", to)
	}
	return llm.WithBreaker(base, resilience.NewBreaker(opts)), model, nil
}

func (a *app) embedder() (llm.Embedder, error) {
	if err := a.cfg.Validate(config.NeedEmbedding); err != nil {
		return nil, err
	}
	e := a.cfg.Embedding
	if e.Provider == "ollama" {
		return ollama.NewEmbedClient(e.BaseURL, e.Model), nil
	}
	return llm.NewOpenAIEmbedder(e.APIKey, e.BaseURL, e.Model, e.Dimensions), nil
}

func (a *app) vectors(ctx context.Context) (*semantic.VectorStore, error) {
	vs, err := semantic.New(a.cfg.Qdrant.Addr, a.cfg.Qdrant.Collection)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { vs.Close() })
	if err := vs.EnsureCollection(ctx, a.cfg.Embedding.Dimensions); err != nil {
		return nil, err
	}
	return vs, nil
}

// graph connects to Neo4j, or returns nil when NEO4J_URL is unset.
func (a *app) graph(ctx context.Context) (*graph.Store, error) {
	if a.cfg.Neo4j.URL == "" {
		return nil, nil
	}
	driver, err := neo4j.NewDriverWithContext(a.cfg.Neo4j.URL, neo4j.BasicAuth(a.cfg.Neo4j.User, a.cfg.Neo4j.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: driver: %w: %w", domain.ErrConfiguration, err)
	}
	a.onClose(func() { driver.Close(context.Background()) })
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j: connect: %w: %w", domain.ErrNetwork, err)
	}
	g := graph.New(driver, a.log)
	if err := g.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (a *app) claimer(pool *pgxpool.Pool) (claim.Claimer, error) {
	switch strings.ToLower(a.cfg.Claim.Mode) {
	case "", "advisory":
		return claim.NewAdvisory(pool, ""), nil
	case "lease":
		return claim.NewLease(pool, a.cfg.Claim.LeaseTTL, a.log), nil
	case "memory":
		return claim.NewMemory(), nil
	}
	return nil, fmt.Errorf("claim: unknown mode %q: %w", a.cfg.Claim.Mode, domain.ErrConfiguration)
}

// ingestor wires embedder, vector store and marker table together.
func (a *app) ingestor(ctx context.Context, pool *pgxpool.Pool) (*ingest.Ingestor, error) {
	emb, err := a.embedder()
	if err != nil {
		return nil, err
	}
	vs, err := a.vectors(ctx)
	if err != nil {
		return nil, err
	}
	lim, err := a.embedLimiter(ctx)
	if err != nil {
		return nil, err
	}
	return ingest.New(emb, vs, store.NewMetadata(pool), ingest.Options{
		Limiter: lim,
		Metrics: a.reg,
		Logger:  a.log,
	}), nil
}

// analysisReader pages analysed topics from the two tables that hold them.
type analysisReader struct {
	*store.Topics
	*store.Analyses
}

func newAnalysisReader(pool *pgxpool.Pool) analysisReader {
	return analysisReader{Topics: store.NewTopics(pool), Analyses: store.NewAnalyses(pool)}
}
