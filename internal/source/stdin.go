package source

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/model"
)

// StdinSource reads one JSON document per line from stdin, checkpointing on
// a monotonic line counter. Stateless: SuggestTruncate is always a no-op
// (spec.md §4.2 example).
type StdinSource struct {
	SourceID  string
	BatchSize int

	reader *bufio.Reader
	line   int64
	done   bool
}

// NewStdinSource wraps os.Stdin.
func NewStdinSource(sourceID string, batchSize int) *StdinSource {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &StdinSource{SourceID: sourceID, BatchSize: batchSize, reader: bufio.NewReader(os.Stdin)}
}

func (s *StdinSource) EmitBatches(ctx context.Context, actorCtx *actor.Context, out Mailbox) (time.Duration, error) {
	if s.done {
		return 0, ErrSourceDone
	}
	docs := make([]string, 0, s.BatchSize)
	from := checkpoint.Offset(uint64(s.line))

	for len(docs) < s.BatchSize {
		line, err := s.reader.ReadString('\n')
		if len(line) > 0 {
			s.line++
			docs = append(docs, trimNewline(line))
		}
		if err != nil {
			if err == io.EOF {
				if len(docs) > 0 {
					s.sendBatch(ctx, out, docs, from)
				}
				actor.SendExitWithSuccess(ctx, out, model.RawDocBatch{Final: true})
				s.done = true
				return time.Duration(0), nil
			}
			return 0, model.NewError(model.KindIO, "StdinSource.EmitBatches", err)
		}
	}
	s.sendBatch(ctx, out, docs, from)
	return 0, nil
}

func (s *StdinSource) sendBatch(ctx context.Context, out Mailbox, docs []string, from checkpoint.Position) {
	to := checkpoint.Offset(uint64(s.line))
	delta := checkpoint.IndexCheckpointDelta{
		SourceID:    s.SourceID,
		SourceDelta: checkpoint.NewDelta(partitionID, from, to),
	}
	_ = out.Send(ctx, model.RawDocBatch{Docs: docs, CheckpointDelta: delta})
}

func (s *StdinSource) SuggestTruncate(ctx context.Context, ck checkpoint.SourceCheckpoint) error {
	return nil
}
