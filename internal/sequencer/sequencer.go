// Package sequencer turns the uploader's concurrent task pool into an
// ordered publish stream: it drains a channel of receivers in arrival
// order, awaiting each one in turn before forwarding the resolved
// SplitUpdate downstream (spec.md §4.6). This is required since the
// checkpoint-delta protocol forbids out-of-order application (invariant 5).
package sequencer

import (
	"log/slog"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/model"
)

// Sequencer is the single-goroutine actor sitting between Uploader and
// Publisher.
type Sequencer struct {
	IndexID string
	Log     *slog.Logger

	In  *actor.Mailbox[<-chan model.SplitUpdate]
	Out *actor.Mailbox[model.SplitUpdate]
}

// New builds a Sequencer for one index.
func New(indexID string, log *slog.Logger, in *actor.Mailbox[<-chan model.SplitUpdate], out *actor.Mailbox[model.SplitUpdate]) *Sequencer {
	if log == nil {
		log = slog.Default()
	}
	return &Sequencer{IndexID: indexID, Log: log, In: in, Out: out}
}

func (s *Sequencer) Name() string { return "sequencer:" + s.IndexID }

func (s *Sequencer) Pool() actor.Pool { return actor.PoolAsync }

func (s *Sequencer) Run(actorCtx *actor.Context) actor.ExitStatus {
	ctx := actorCtx.Ctx()
	for {
		select {
		case <-ctx.Done():
			return actor.ExitKilled
		case resultCh, ok := <-s.In.Chan():
			if !ok {
				return actor.ExitDownstreamClosed
			}
			actorCtx.Progress()

			select {
			case <-ctx.Done():
				return actor.ExitKilled
			case update, ok := <-resultCh:
				if !ok {
					// The batch's upload failed and resultCh was closed without a
					// value (uploader already fired the kill switch in that case);
					// nothing to forward.
					continue
				}
				if err := s.Out.Send(ctx, update); err != nil {
					return actor.ExitDownstreamClosed
				}
			}
		}
	}
}
