// Package uploader pushes packaged splits to object storage and the
// metastore, turning a PackagedSplitBatch into a one-shot SplitUpdate
// receiver handed to the Sequencer (spec.md §4.5).
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/metastore"
	"github.com/wessley-search/splitcore/internal/model"
	"github.com/wessley-search/splitcore/internal/storage"
	"github.com/wessley-search/splitcore/pkg/fn"
	"github.com/wessley-search/splitcore/pkg/resilience"
)

// DefaultMaxConcurrentUploads is spec.md §4.5/§5's default permit count for
// the process-wide upload semaphore.
const DefaultMaxConcurrentUploads = 4

// putRetry is the backoff policy wrapping every storage.Put call. It sets no
// Retryable classifier, so every error is retried up to MaxAttempts, a 4xx
// response included; the 4xx-except-429-permanent classification
// (retryablePutError) is applied only inside the S3 backend, to the parts of
// a multipart upload.
var putRetry = fn.RetryOpts{MaxAttempts: 3, InitialWait: 500 * time.Millisecond, MaxWait: 10 * time.Second, Jitter: true}

// Uploader consumes PackagedSplitBatch, uploads every split concurrently
// (bounded by Sem), and forwards a one-shot SplitUpdate receiver to the
// Sequencer in arrival order (spec.md §4.5/§4.6).
type Uploader struct {
	IndexID   string
	Metastore metastore.Metastore
	Storage   storage.Storage
	Breaker   *resilience.Breaker
	Sem       *semaphore.Weighted
	Log       *slog.Logger

	In           *actor.Mailbox[model.PackagedSplitBatch]
	SequencerOut *actor.Mailbox[<-chan model.SplitUpdate]
}

// New builds an Uploader. Storage is expected to already be opened at the
// deployment's object storage root (storage.Open, spec.md §4.10) — Put
// paths here are relative to that root, namespaced by index id, so
// model.SplitPath's <index_root_uri> component lives in Storage itself
// rather than being re-added to every call. sem is constructed once by the
// caller from a config snapshot (spec.md §9 "Global mutable state" — no
// package-level sync.Once here, so tests can build their own instance).
func New(indexID string, ms metastore.Metastore, st storage.Storage, breaker *resilience.Breaker, sem *semaphore.Weighted, log *slog.Logger, in *actor.Mailbox[model.PackagedSplitBatch], out *actor.Mailbox[<-chan model.SplitUpdate]) *Uploader {
	if log == nil {
		log = slog.Default()
	}
	if sem == nil {
		sem = semaphore.NewWeighted(DefaultMaxConcurrentUploads)
	}
	return &Uploader{IndexID: indexID, Metastore: ms, Storage: st, Breaker: breaker, Sem: sem, Log: log, In: in, SequencerOut: out}
}

func (u *Uploader) Name() string { return "uploader:" + u.IndexID }

func (u *Uploader) Pool() actor.Pool { return actor.PoolAsync }

func (u *Uploader) Run(actorCtx *actor.Context) actor.ExitStatus {
	ctx := actorCtx.Ctx()
	for {
		select {
		case <-ctx.Done():
			return actor.ExitKilled
		case batch, ok := <-u.In.Chan():
			if !ok {
				return actor.ExitDownstreamClosed
			}
			actorCtx.Progress()
			resultCh := make(chan model.SplitUpdate, 1)
			if err := u.SequencerOut.Send(ctx, resultCh); err != nil {
				return actor.ExitDownstreamClosed
			}
			go u.uploadBatch(ctx, actorCtx, batch, resultCh)
		}
	}
}

// uploadBatch runs every split's upload concurrently and publishes the
// resolved SplitUpdate on resultCh exactly once. Any failure fires the
// kill switch (spec.md §4.5 step 3) — an upload failure is unrecoverable
// for this batch since the sequencer is already waiting in order on
// resultCh.
func (u *Uploader) uploadBatch(ctx context.Context, actorCtx *actor.Context, batch model.PackagedSplitBatch, resultCh chan<- model.SplitUpdate) {
	defer close(resultCh)

	newSplits := make([]model.SplitMetadata, len(batch.Splits))
	g, gctx := errgroup.WithContext(ctx)
	for i, split := range batch.Splits {
		i, split := i, split
		g.Go(func() error {
			if err := u.Sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer u.Sem.Release(1)

			meta, err := u.uploadSplit(gctx, batch.IndexID, split)
			if err != nil {
				return fmt.Errorf("upload split %s: %w", split.Metadata.SplitID, err)
			}
			newSplits[i] = meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		u.Log.Error("uploader: batch failed, killing pipeline", "index_id", batch.IndexID, "error", err)
		actorCtx.Kill(err)
		return
	}

	resultCh <- model.SplitUpdate{
		IndexID:         batch.IndexID,
		NewSplits:       newSplits,
		CheckpointDelta: deltaOrNil(batch.CheckpointDelta),
		DateOfBirth:     batch.DateOfBirth,
	}
}

// deltaOrNil reports batch's checkpoint delta as a pointer, or nil if the
// batch carried none (e.g. an all-invalid batch with no source progress).
func deltaOrNil(d checkpoint.IndexCheckpointDelta) *checkpoint.IndexCheckpointDelta {
	if d.SourceID == "" {
		return nil
	}
	return &d
}

// uploadSplit stages the split's metadata before uploading its object
// (spec.md §4.5: stage_split happens before the object upload — the GC's
// orphan detection in §5.9 depends on that ordering), then writes the
// concatenated split payload (segment files + hotcache) to storage.
func (u *Uploader) uploadSplit(ctx context.Context, indexID string, split *model.PackagedSplit) (model.SplitMetadata, error) {
	meta := split.Metadata
	meta.IndexID = indexID
	meta.CreateTimestamp = time.Now()
	meta.UpdateTimestamp = meta.CreateTimestamp
	meta.State = model.SplitStaged

	stage := func(ctx context.Context) fn.Result[struct{}] {
		if err := u.Metastore.StageSplit(ctx, indexID, meta); err != nil {
			return fn.Err[struct{}](err)
		}
		return fn.Ok(struct{}{})
	}
	if u.Breaker != nil {
		if _, err := resilience.CallResult(u.Breaker, ctx, stage).Unwrap(); err != nil {
			return model.SplitMetadata{}, err
		}
	} else if _, err := stage(ctx).Unwrap(); err != nil {
		return model.SplitMetadata{}, err
	}

	size, payload, err := u.buildPayload(split)
	if err != nil {
		return model.SplitMetadata{}, err
	}
	defer payload.Close()

	path := fmt.Sprintf("%s/%s.split", indexID, meta.SplitID)
	put := func(ctx context.Context) fn.Result[struct{}] {
		if err := u.Storage.Put(ctx, path, storage.Payload{Reader: payload, Size: size}); err != nil {
			return fn.Err[struct{}](err)
		}
		return fn.Ok(struct{}{})
	}
	retried := func(ctx context.Context) fn.Result[struct{}] {
		return fn.RetryStage(putRetry, func(ctx context.Context, _ struct{}) fn.Result[struct{}] {
			return put(ctx)
		})(ctx, struct{}{})
	}
	var result fn.Result[struct{}]
	if u.Breaker != nil {
		result = resilience.CallResult(u.Breaker, ctx, retried)
	} else {
		result = retried(ctx)
	}
	if _, err := result.Unwrap(); err != nil {
		return model.SplitMetadata{}, err
	}

	return meta, nil
}

// buildPayload concatenates the split's segment files and its hotcache
// into a single stream via io.MultiReader, and reports its total size so
// the storage backend can decide between a single PutObject and a
// multipart upload (spec.md §4.10).
func (u *Uploader) buildPayload(split *model.PackagedSplit) (int64, io.ReadCloser, error) {
	var readers []io.Reader
	var closers []io.Closer
	var total int64

	for _, path := range split.SplitFiles {
		f, err := os.Open(path)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return 0, nil, model.NewError(model.KindIO, "uploader.buildPayload", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			for _, c := range closers {
				c.Close()
			}
			return 0, nil, model.NewError(model.KindIO, "uploader.buildPayload", err)
		}
		total += info.Size()
		readers = append(readers, f)
		closers = append(closers, f)
	}
	readers = append(readers, bytes.NewReader(split.HotcacheBytes))
	total += int64(len(split.HotcacheBytes))

	return total, &multiReadCloser{Reader: io.MultiReader(readers...), closers: closers}, nil
}

type multiReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
