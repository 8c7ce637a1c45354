package pipeline

import (
	"log/slog"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/source"
)

// sourceActor is the actor wrapper deferred out of internal/source itself:
// source.Source is a plain interface (EmitBatches/SuggestTruncate), not an
// Actor, since a bare adapter has no mailbox of its own to receive the
// publisher's truncate suggestion on (spec.md §4.2, §4.6). This wrapper
// runs source.PollLoop on its own goroutine and races it against an inbound
// SourceCheckpoint mailbox the publisher's weak mailbox targets, closing
// the "suggest truncate" cycle spec.md §9 describes.
type sourceActor struct {
	indexID  string
	sourceID string
	src      source.Source

	out        source.Mailbox
	truncateIn *actor.Mailbox[checkpoint.SourceCheckpoint]
	log        *slog.Logger
}

func (a *sourceActor) Name() string { return "source:" + a.indexID + ":" + a.sourceID }

func (a *sourceActor) Pool() actor.Pool { return actor.PoolAsync }

func (a *sourceActor) Run(actorCtx *actor.Context) actor.ExitStatus {
	ctx := actorCtx.Ctx()

	pollErr := make(chan error, 1)
	go func() { pollErr <- source.PollLoop(ctx, actorCtx, a.src, a.out) }()

	for {
		select {
		case <-ctx.Done():
			return actor.ExitKilled

		case err := <-pollErr:
			if err != nil && ctx.Err() == nil {
				a.log.Error("pipeline: source poll loop failed, killing pipeline", "index_id", a.indexID, "source_id", a.sourceID, "error", err)
				actorCtx.Kill(err)
				return actor.ExitFailure
			}
			return actor.ExitSuccess

		case ck, ok := <-a.truncateIn.Chan():
			if !ok {
				continue
			}
			actorCtx.Progress()
			if err := a.src.SuggestTruncate(ctx, ck); err != nil {
				a.log.Warn("pipeline: suggest_truncate failed, ignored", "index_id", a.indexID, "source_id", a.sourceID, "error", err)
			}
		}
	}
}
