// Package publisher applies a sequenced SplitUpdate to the metastore and
// best-effort notifies the source (to truncate consumed history) and the
// merge planner (to consider the newly published splits), per spec.md §4.6.
package publisher

import (
	"context"
	"log/slog"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/metastore"
	"github.com/wessley-search/splitcore/internal/model"
)

// Publisher is the actor that makes a sequenced SplitUpdate durable.
type Publisher struct {
	IndexID   string
	Metastore metastore.Metastore
	Log       *slog.Logger

	In *actor.Mailbox[model.SplitUpdate]

	// TruncateTargets maps source id -> a weak mailbox the source actor
	// listens on for a suggested new low-water-mark checkpoint (spec.md
	// §4.2/§4.6). A source absent from this map, or whose actor has already
	// exited, is a silent no-op (spec.md §9 "Cyclic actor references").
	TruncateTargets map[string]*actor.WeakMailbox[checkpoint.SourceCheckpoint]

	// MergeNotify is a weak mailbox to the index's merge.Planner, told about
	// every published update so it can evaluate merge/demux policy inputs
	// (spec.md §4.7). Best-effort: a nil or exited planner is a no-op.
	MergeNotify *actor.WeakMailbox[model.SplitUpdate]
}

// New builds a Publisher for one index.
func New(indexID string, ms metastore.Metastore, in *actor.Mailbox[model.SplitUpdate], truncateTargets map[string]*actor.WeakMailbox[checkpoint.SourceCheckpoint], mergeNotify *actor.WeakMailbox[model.SplitUpdate], log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	if truncateTargets == nil {
		truncateTargets = make(map[string]*actor.WeakMailbox[checkpoint.SourceCheckpoint])
	}
	return &Publisher{IndexID: indexID, Metastore: ms, Log: log, In: in, TruncateTargets: truncateTargets, MergeNotify: mergeNotify}
}

func (p *Publisher) Name() string { return "publisher:" + p.IndexID }

func (p *Publisher) Pool() actor.Pool { return actor.PoolAsync }

func (p *Publisher) Run(actorCtx *actor.Context) actor.ExitStatus {
	ctx := actorCtx.Ctx()
	for {
		select {
		case <-ctx.Done():
			return actor.ExitKilled
		case update, ok := <-p.In.Chan():
			if !ok {
				return actor.ExitDownstreamClosed
			}
			actorCtx.Progress()
			if err := p.publish(ctx, update); err != nil {
				p.Log.Error("publisher: publish_splits failed, killing pipeline", "index_id", p.IndexID, "error", err)
				actorCtx.Kill(err)
			}
		}
	}
}

// publish runs the atomic metastore transaction, then the two best-effort
// notifications (spec.md §4.6 steps 2-3).
func (p *Publisher) publish(ctx context.Context, update model.SplitUpdate) error {
	newIDs := make([]string, len(update.NewSplits))
	for i, s := range update.NewSplits {
		newIDs[i] = s.SplitID
	}
	if err := p.Metastore.PublishSplits(ctx, update.IndexID, newIDs, update.ReplacedSplitIDs, update.CheckpointDelta); err != nil {
		return err
	}

	if update.CheckpointDelta != nil {
		if target, ok := p.TruncateTargets[update.CheckpointDelta.SourceID]; ok {
			target.Send(ctx, newLowWaterMark(update.CheckpointDelta.SourceDelta))
		}
	}
	p.MergeNotify.Send(ctx, update)
	return nil
}

// newLowWaterMark projects a delta's "to" positions into a SourceCheckpoint,
// the form SuggestTruncate expects: the position before which a source is
// now free to discard history (spec.md §4.2).
func newLowWaterMark(delta checkpoint.SourceCheckpointDelta) checkpoint.SourceCheckpoint {
	ck := make(checkpoint.SourceCheckpoint, len(delta))
	for partition, d := range delta {
		ck[partition] = d.To
	}
	return ck
}
