package source

import (
	"context"
	"math"
	"time"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/checkpoint"
)

// VoidSource emits nothing and waits indefinitely. It is the default source
// for an index with no configured sources (SPEC_FULL.md §5.2).
type VoidSource struct{}

func (VoidSource) EmitBatches(ctx context.Context, actorCtx *actor.Context, out Mailbox) (time.Duration, error) {
	return time.Duration(math.MaxInt64), nil
}

func (VoidSource) SuggestTruncate(ctx context.Context, ck checkpoint.SourceCheckpoint) error {
	return nil
}
