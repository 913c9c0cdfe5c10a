// Package events announces pipeline progress on NATS. Every publish is
// best effort: a missing connection or a failed publish is logged and never
// fails the work that triggered it.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/pkg/natsutil"
)

const (
	SubjectTopicStored    = "forumlens.topics.stored"
	SubjectAnalysisSaved  = "forumlens.analysis.saved"
	SubjectAnalysisFailed = "forumlens.analysis.failed"
	SubjectIngestDLQ      = "forumlens.ingest.dlq"
)

// TopicStored is published when a scrape wrote new or changed raw JSON.
type TopicStored struct {
	TopicID  int64     `json:"topic_id"`
	Result   string    `json:"result"`
	Checksum string    `json:"checksum"`
	At       time.Time `json:"at"`
}

// AnalysisSaved is published after an analysis record was replaced.
type AnalysisSaved struct {
	TopicID int64     `json:"topic_id"`
	QAPairs int       `json:"qa_pairs"`
	At      time.Time `json:"at"`
}

// AnalysisFailed is published when a topic could not be analysed.
type AnalysisFailed struct {
	TopicID int64     `json:"topic_id"`
	Stage   string    `json:"stage"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Bus publishes and subscribes to forumlens subjects. A nil *Bus, or one
// built on a nil connection, silently does nothing.
type Bus struct {
	nc  *nats.Conn
	log *slog.Logger
	now func() time.Time
}

// NewBus creates a Bus on nc.
func NewBus(nc *nats.Conn, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{nc: nc, log: log.With("component", "events"), now: time.Now}
}

// Conn returns the underlying connection, or nil.
func (b *Bus) Conn() *nats.Conn {
	if b == nil {
		return nil
	}
	return b.nc
}

func (b *Bus) enabled() bool { return b != nil && b.nc != nil }

func publish[T any](ctx context.Context, b *Bus, subject string, v T) {
	if !b.enabled() {
		return
	}
	if err := natsutil.Publish(ctx, b.nc, subject, v); err != nil {
		b.log.Warn("publish failed", "subject", subject, "err", err)
	}
}

// TopicStored announces a stored topic.
func (b *Bus) TopicStored(ctx context.Context, topicID int64, result, checksum string) {
	if !b.enabled() {
		return
	}
	publish(ctx, b, SubjectTopicStored, TopicStored{TopicID: topicID, Result: result, Checksum: checksum, At: b.now()})
}

// AnalysisSaved has the shape of an analysis after-save hook. It never
// returns an error.
func (b *Bus) AnalysisSaved(ctx context.Context, rec *domain.AnalysisRecord) error {
	if !b.enabled() {
		return nil
	}
	publish(ctx, b, SubjectAnalysisSaved, AnalysisSaved{TopicID: rec.TopicID, QAPairs: len(rec.QAPairs), At: b.now()})
	return nil
}

// AnalysisFailed announces a failed analysis.
func (b *Bus) AnalysisFailed(ctx context.Context, se *domain.StageError) {
	if !b.enabled() || se == nil {
		return
	}
	reason := ""
	if se.Err != nil {
		reason = se.Err.Error()
	}
	publish(ctx, b, SubjectAnalysisFailed, AnalysisFailed{TopicID: se.TopicID, Stage: string(se.Stage), Reason: reason, At: b.now()})
}

// WakeOnStored returns a channel that receives a value whenever a topic is
// stored. Signals coalesce: a slow reader sees at most one pending wake-up.
// stop unsubscribes. Without a connection the channel never fires.
func (b *Bus) WakeOnStored() (wake <-chan struct{}, stop func(), err error) {
	ch := make(chan struct{}, 1)
	if !b.enabled() {
		return ch, func() {}, nil
	}
	sub, err := natsutil.Subscribe(b.nc, SubjectTopicStored, func(context.Context, natsutil.Delivery[TopicStored]) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return ch, func() {
		if err := sub.Unsubscribe(); err != nil {
			b.log.Debug("unsubscribe", "err", err)
		}
	}, nil
}
