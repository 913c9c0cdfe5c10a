package claim

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// Advisory claims topics with PostgreSQL session-level advisory locks.
// Each claim pins one pool connection until release, so the pool must be
// sized for one connection per worker plus the ones queries need. If the
// process dies the session ends and the server drops the lock.
type Advisory struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewAdvisory creates an advisory-lock claimer. namespace separates these
// locks from other users of advisory locks on the same database.
func NewAdvisory(pool *pgxpool.Pool, namespace string) *Advisory {
	if namespace == "" {
		namespace = "forumlens.topic"
	}
	return &Advisory{pool: pool, namespace: namespace}
}

func (a *Advisory) TryClaim(ctx context.Context, topicID int64) (Hold, bool, error) {
	key := advisoryKey64(a.namespace, topicID)
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("advisory: acquire: %w: %w", domain.ErrDatabase, err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("advisory: try lock: %w: %w", domain.ErrDatabase, err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return &advisoryHold{conn: conn, key: key}, true, nil
}

type advisoryHold struct {
	conn *pgxpool.Conn
	key  int64
}

func (h *advisoryHold) Release(ctx context.Context) error {
	var unlocked bool
	err := h.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, h.key).Scan(&unlocked)
	if err != nil || !unlocked {
		// Ending the session is the only other way to drop the lock; a
		// closed connection is discarded by the pool on Release.
		_ = h.conn.Conn().Close(context.WithoutCancel(ctx))
	}
	h.conn.Release()
	if err != nil {
		return fmt.Errorf("advisory: unlock: %w: %w", domain.ErrDatabase, err)
	}
	return nil
}

// advisoryKey64 maps (namespace, topic id) onto the single bigint advisory
// lock key space. A collision only makes two topics contend for one lock.
func advisoryKey64(namespace string, topicID int64) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(strconv.FormatInt(topicID, 10)))
	return int64(h.Sum64())
}
