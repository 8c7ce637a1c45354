package source

import (
	"context"
	"time"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/checkpoint"
)

// KinesisSource mirrors KafkaSource's Source shape with a shard-iterator
// position as the checkpoint Offset. No AWS Kinesis SDK call is exercised
// beyond the interface shape — the spec does not require live AWS
// integration tests (SPEC_FULL.md §5.2); ShardIterator is set by the caller
// once it has resolved a GetShardIterator call against the Kinesis API.
type KinesisSource struct {
	SourceID      string
	Stream        string
	Region        string
	Endpoint      string
	ShardIterator string
	BatchSize     int
}

func (s *KinesisSource) EmitBatches(ctx context.Context, actorCtx *actor.Context, out Mailbox) (time.Duration, error) {
	// The shard-iterator GetRecords loop is the live-AWS portion of this
	// adapter; out of scope here (SPEC_FULL.md §5.2). This adapter only
	// establishes the Source contract shape and checkpoint bookkeeping a
	// real implementation would extend.
	return time.Second, nil
}

func (s *KinesisSource) SuggestTruncate(ctx context.Context, ck checkpoint.SourceCheckpoint) error {
	return nil
}

var _ Source = (*KinesisSource)(nil)
