package source

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/model"
)

// IngestAPISource is backed by a NATS JetStream durable consumer — the
// "thin buffer" spec.md §1 Non-goals describes: the source of truth is the
// metastore checkpoint, not the stream (SPEC_FULL.md §5.2). Grounded on
// pkg/natsutil's Subscribe[T] pattern, adapted from fire-and-forget
// pub/sub to a pull consumer the indexer drains on its own schedule.
type IngestAPISource struct {
	SourceID  string
	Subject   string
	Durable   string
	BatchSize int

	sub *nats.Subscription
}

// NewIngestAPISource binds a pull-based durable consumer on subject.
func NewIngestAPISource(js nats.JetStreamContext, sourceID, subject, durable string, batchSize int) (*IngestAPISource, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	sub, err := js.PullSubscribe(subject, durable)
	if err != nil {
		return nil, model.NewError(model.KindIO, "source.NewIngestAPISource", err)
	}
	return &IngestAPISource{SourceID: sourceID, Subject: subject, Durable: durable, BatchSize: batchSize, sub: sub}, nil
}

func (s *IngestAPISource) EmitBatches(ctx context.Context, actorCtx *actor.Context, out Mailbox) (time.Duration, error) {
	exit := actorCtx.ProtectZone()
	defer exit()

	msgs, err := s.sub.Fetch(s.BatchSize, nats.MaxWait(2*time.Second))
	if err != nil {
		if err == nats.ErrTimeout {
			return 250 * time.Millisecond, nil
		}
		return 0, model.NewError(model.KindIO, "IngestAPISource.Fetch", err)
	}
	if len(msgs) == 0 {
		return 250 * time.Millisecond, nil
	}

	docs := make([]string, 0, len(msgs))
	var maxSeq uint64
	for _, m := range msgs {
		docs = append(docs, string(m.Data))
		if meta, err := m.Metadata(); err == nil && meta.Sequence.Stream > maxSeq {
			maxSeq = meta.Sequence.Stream
		}
		_ = m.Ack()
	}

	delta := checkpoint.IndexCheckpointDelta{
		SourceID:    s.SourceID,
		SourceDelta: checkpoint.NewDelta(partitionID, checkpoint.Offset(maxSeq-uint64(len(docs))), checkpoint.Offset(maxSeq)),
	}
	if err := out.Send(ctx, model.RawDocBatch{Docs: docs, CheckpointDelta: delta}); err != nil {
		return 0, err
	}
	return 0, nil
}

// SuggestTruncate is a no-op: messages are acked as soon as they are
// fetched and nothing is purged from the stream here. JetStream is only a
// thin buffer, not the source of truth (spec.md §1).
func (s *IngestAPISource) SuggestTruncate(ctx context.Context, ck checkpoint.SourceCheckpoint) error {
	return nil
}

var _ Source = (*IngestAPISource)(nil)
