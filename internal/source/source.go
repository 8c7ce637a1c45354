// Package source holds the Source adapters that feed RawDocBatch messages
// into an indexer actor (spec.md §4.2). Each adapter is a single file:
// file.go, stdin.go, kafka.go, kinesis.go, ingestapi.go, vec.go, void.go.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/model"
)

// Mailbox is the indexer's inbound channel for RawDocBatch messages.
type Mailbox = *actor.Mailbox[model.RawDocBatch]

// ErrSourceDone is returned by EmitBatches once a finite adapter (file,
// stdin, vec) has already sent its Final exit signal on a prior call —
// PollLoop treats it as a clean stop rather than a failure, so a source
// actor sitting on an exhausted adapter doesn't spin resending Final.
var ErrSourceDone = errors.New("source: adapter already exhausted")

// Source is the contract every adapter implements (spec.md §4.2).
type Source interface {
	// EmitBatches reads from the underlying source, sends zero or more
	// RawDocBatch messages to out, and returns the minimum delay until it
	// should be polled again. It may call actor.SendExitWithSuccess on the
	// indexer's mailbox to terminate the pipeline cleanly (file EOF, Kafka
	// backfill completion).
	EmitBatches(ctx context.Context, actorCtx *actor.Context, out Mailbox) (time.Duration, error)

	// SuggestTruncate is sent by the publisher after a successful publish
	// naming a SourceCheckpoint it is now safe to forget history before. A
	// source is free to ignore it (spec.md §4.2).
	SuggestTruncate(ctx context.Context, ck checkpoint.SourceCheckpoint) error
}

// PollLoop runs src's EmitBatches in a loop, sleeping for the returned
// duration between calls, until ctx is done. It is the "receive until
// timeout or threshold" driver shared by every adapter's actor wrapper
// (SPEC_FULL.md §5.4 describes the analogous three-way select in the
// indexer; sources only race two arms, the poll timer and ctx.Done()).
func PollLoop(ctx context.Context, actorCtx *actor.Context, src Source, out Mailbox) error {
	for {
		delay, err := src.EmitBatches(ctx, actorCtx, out)
		if err != nil {
			if errors.Is(err, ErrSourceDone) {
				return nil
			}
			return err
		}
		actorCtx.Progress()
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
