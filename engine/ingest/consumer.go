package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/engine/events"
	"github.com/WessleyAI/forumlens/pkg/natsutil"
)

// MaxDeliveries is how many times one saved analysis is attempted before
// it goes to the dead-letter subject.
const MaxDeliveries = 3

// ConsumerQueue is the queue group shared by forum ingest consumers.
const ConsumerQueue = "forumlens-ingest"

type dlqMessage struct {
	TopicID  int64  `json:"topic_id"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// StartForumConsumer ingests each topic announced on the analysis-saved
// subject. Failed topics are redelivered up to MaxDeliveries times and then
// published to the dead-letter subject.
func StartForumConsumer(nc *nats.Conn, in *Ingestor, r AnalysisReader, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "ingest-consumer")

	return natsutil.QueueSubscribe(nc, events.SubjectAnalysisSaved, ConsumerQueue, func(ctx context.Context, d natsutil.Delivery[events.AnalysisSaved]) {
		err := ingestTopic(ctx, in, r, d.Value.TopicID)
		if err == nil {
			return
		}
		if d.Attempt < MaxDeliveries {
			log.Warn("ingest failed, redelivering", "topic_id", d.Value.TopicID, "attempt", d.Attempt, "err", err)
			if pubErr := natsutil.Redeliver(ctx, nc, d); pubErr != nil {
				log.Error("redeliver failed", "topic_id", d.Value.TopicID, "err", pubErr)
			}
			return
		}
		log.Error("ingest failed, sending to DLQ", "topic_id", d.Value.TopicID, "attempts", d.Attempt, "err", err)
		msg := dlqMessage{TopicID: d.Value.TopicID, Error: err.Error(), Attempts: d.Attempt}
		if pubErr := natsutil.Publish(ctx, nc, events.SubjectIngestDLQ, msg); pubErr != nil {
			log.Error("dlq publish failed", "topic_id", d.Value.TopicID, "err", pubErr)
		}
	})
}

func ingestTopic(ctx context.Context, in *Ingestor, r AnalysisReader, topicID int64) error {
	rec, err := r.Load(ctx, topicID)
	if err != nil {
		return err
	}
	it, err := ForumItem(rec)
	if err != nil {
		return err
	}
	res := in.Ingest(ctx, Batch{Kind: domain.SourceForum, Items: []Item{it}})
	if res.Failed > 0 {
		return fmt.Errorf("ingest: topic %d: %d chunk errors: %s", topicID, res.ChunkErrors, res.Failures[0].Reason)
	}
	return nil
}
