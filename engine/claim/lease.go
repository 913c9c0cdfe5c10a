package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// DefaultLeaseTTL bounds how long a crashed worker keeps a topic.
const DefaultLeaseTTL = 5 * time.Minute

// Querier is the subset of *pgxpool.Pool the lease claimer uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Lease claims topics with rows in topic_claim_leases. A row whose
// expires_at has passed can be taken over by anyone. Holders renew their
// row every TTL/3 until released.
type Lease struct {
	db  Querier
	ttl time.Duration
	log *slog.Logger
}

// NewLease creates a lease claimer.
func NewLease(db Querier, ttl time.Duration, log *slog.Logger) *Lease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Lease{db: db, ttl: ttl, log: log.With("component", "lease")}
}

func (l *Lease) TryClaim(ctx context.Context, topicID int64) (Hold, bool, error) {
	holder := uuid.NewString()
	var got string
	err := l.db.QueryRow(ctx, `
		INSERT INTO topic_claim_leases (topic_id, holder, expires_at)
		VALUES ($1, $2, now() + $3 * interval '1 millisecond')
		ON CONFLICT (topic_id) DO UPDATE SET
			holder     = EXCLUDED.holder,
			expires_at = EXCLUDED.expires_at
		WHERE topic_claim_leases.expires_at < now()
		RETURNING holder`,
		topicID, holder, l.ttl.Milliseconds(),
	).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lease: claim: %w: %w", domain.ErrDatabase, err)
	}

	h := &leaseHold{
		l:       l,
		topicID: topicID,
		holder:  holder,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		lost:    make(chan struct{}),
	}
	go h.heartbeat()
	return h, true, nil
}

type leaseHold struct {
	l       *Lease
	topicID int64
	holder  string

	stop     chan struct{}
	done     chan struct{}
	lost     chan struct{}
	lostOnce sync.Once
}

func (h *leaseHold) Lost() <-chan struct{} { return h.lost }

func (h *leaseHold) heartbeat() {
	defer close(h.done)
	every := h.l.ttl / 3
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), every)
		tag, err := h.l.db.Exec(ctx, `
			UPDATE topic_claim_leases SET expires_at = now() + $3 * interval '1 millisecond'
			WHERE topic_id = $1 AND holder = $2`,
			h.topicID, h.holder, h.l.ttl.Milliseconds())
		cancel()
		if err != nil {
			h.l.log.Warn("heartbeat failed", "topic_id", h.topicID, "err", err)
			continue
		}
		if tag.RowsAffected() == 0 {
			h.l.log.Warn("lease lost", "topic_id", h.topicID)
			h.lostOnce.Do(func() { close(h.lost) })
			return
		}
	}
}

func (h *leaseHold) Release(ctx context.Context) error {
	close(h.stop)
	<-h.done
	_, err := h.l.db.Exec(ctx,
		`DELETE FROM topic_claim_leases WHERE topic_id = $1 AND holder = $2`,
		h.topicID, h.holder)
	if err != nil {
		return fmt.Errorf("lease: release: %w: %w", domain.ErrDatabase, err)
	}
	return nil
}
