package source

import (
	"context"
	"time"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/model"
)

// VecSource holds a static in-memory document slice, single partition.
// Useful for tests — teacher precedent: engine/ingest's test fixtures build
// posts in-memory rather than over the wire (SPEC_FULL.md §5.2).
type VecSource struct {
	SourceID  string
	Docs      []string
	BatchSize int

	sent int
	done bool
}

// NewVecSource builds a VecSource over docs, emitting at most batchSize docs
// per call to EmitBatches.
func NewVecSource(sourceID string, docs []string, batchSize int) *VecSource {
	if batchSize <= 0 {
		batchSize = len(docs)
		if batchSize == 0 {
			batchSize = 1
		}
	}
	return &VecSource{SourceID: sourceID, Docs: docs, BatchSize: batchSize}
}

func (s *VecSource) EmitBatches(ctx context.Context, actorCtx *actor.Context, out Mailbox) (time.Duration, error) {
	if s.done {
		return 0, ErrSourceDone
	}
	if s.sent >= len(s.Docs) {
		actor.SendExitWithSuccess(ctx, out, model.RawDocBatch{Final: true})
		s.done = true
		return 0, nil
	}
	from := checkpoint.Offset(uint64(s.sent))
	end := s.sent + s.BatchSize
	if end > len(s.Docs) {
		end = len(s.Docs)
	}
	batch := s.Docs[s.sent:end]
	s.sent = end
	to := checkpoint.Offset(uint64(s.sent))

	delta := checkpoint.IndexCheckpointDelta{
		SourceID:    s.SourceID,
		SourceDelta: checkpoint.NewDelta(partitionID, from, to),
	}
	if err := out.Send(ctx, model.RawDocBatch{Docs: batch, CheckpointDelta: delta}); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *VecSource) SuggestTruncate(ctx context.Context, ck checkpoint.SourceCheckpoint) error {
	return nil
}
