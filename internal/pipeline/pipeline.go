// Package pipeline wires one index's actor DAG end to end:
// source -> indexer -> packager -> uploader -> sequencer -> publisher,
// with the publisher's best-effort notifies closing the two cycles spec.md
// §9 describes (truncate suggestions back to each source, new-splits
// notify to the merge planner). This is the integration point cmd/indexer
// drives; every package it wires was built and tested independently
// (SPEC_FULL.md §0 module layout).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/docmapper"
	"github.com/wessley-search/splitcore/internal/indexer"
	"github.com/wessley-search/splitcore/internal/merge"
	"github.com/wessley-search/splitcore/internal/metastore"
	"github.com/wessley-search/splitcore/internal/model"
	"github.com/wessley-search/splitcore/internal/packager"
	"github.com/wessley-search/splitcore/internal/publisher"
	"github.com/wessley-search/splitcore/internal/sequencer"
	"github.com/wessley-search/splitcore/internal/storage"
	"github.com/wessley-search/splitcore/internal/uploader"
	"github.com/wessley-search/splitcore/pkg/idgen"
	"github.com/wessley-search/splitcore/pkg/metrics"
	"github.com/wessley-search/splitcore/pkg/resilience"
)

// mailboxCapacity is the bounded mailbox size used throughout one index's
// pipeline stages, following the teacher's small fixed channel buffers
// (e.g. engine/ingest's worker channels) rather than unbounded queues —
// every stage here has a natural consumer draining it.
const mailboxCapacity = 64

// Deps are the per-index pipeline's external collaborators, threaded
// struct-field style rather than through package globals (SPEC_FULL.md §2
// "Logging", mirroring engine/ingest.Deps).
type Deps struct {
	Metastore   metastore.Metastore
	Storage     storage.Storage
	MetricsReg  *metrics.Registry
	Log         *slog.Logger
	MergePolicy merge.Policy
	Breaker     *resilience.Breaker
	UploadSem   *semaphore.Weighted
	IDs         *idgen.Source
	NATSStream  nats.JetStreamContext // only required for ingest_api-kind sources
}

// Pipeline is one index's spawned actor DAG plus the bookkeeping needed to
// wait for it to finish or tear it down.
type Pipeline struct {
	IndexID string
	Kill    *actor.KillSwitch
	Sup     *actor.Supervisor

	log     *slog.Logger
	actors  []actor.Actor
	closers []func() error
}

// Build constructs every actor and mailbox for meta's configured sources,
// but does not start any goroutines yet (Run does that). It seeds the
// merge planner from the index's currently Published splits so a
// freshly-started pipeline's first few SplitUpdates merge against history
// rather than only against splits produced this run (spec.md §4.7).
func Build(ctx context.Context, meta model.IndexMetadata, deps Deps) (*Pipeline, error) {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	if deps.MetricsReg == nil {
		deps.MetricsReg = metrics.New()
	}
	if deps.IDs == nil {
		deps.IDs = idgen.NewSource()
	}
	if deps.UploadSem == nil {
		deps.UploadSem = semaphore.NewWeighted(4)
	}
	kill := actor.NewKillSwitch(ctx)
	p := &Pipeline{IndexID: meta.IndexID, Kill: kill, Sup: actor.NewSupervisor(kill, log), log: log}

	packagerIn := actor.NewBoundedMailbox[model.IndexedSplitBatch](mailboxCapacity)
	packagerOut := actor.NewBoundedMailbox[model.PackagedSplitBatch](mailboxCapacity)
	uploaderOut := actor.NewBoundedMailbox[<-chan model.SplitUpdate](mailboxCapacity)
	sequencerOut := actor.NewBoundedMailbox[model.SplitUpdate](mailboxCapacity)
	mergeIn := actor.NewBoundedMailbox[model.SplitUpdate](mailboxCapacity)

	p.actors = append(p.actors,
		packager.New(meta.IndexID, log, packagerIn, packagerOut),
		uploader.New(meta.IndexID, deps.Metastore, deps.Storage, deps.Breaker, deps.UploadSem, log, packagerOut, uploaderOut),
		sequencer.New(meta.IndexID, log, uploaderOut, sequencerOut),
	)

	// MergeOperation's consumer is the demux/merge sub-pipeline SPEC_FULL.md
	// §5.8 scopes out of this repo (only the state transitions it drives,
	// via publish_splits, are in scope) — its weak mailbox target is a
	// sink that just drains and logs.
	mergeOpSink := actor.NewBoundedMailbox[merge.MergeOperation](mailboxCapacity)
	mergeOut := actor.NewWeakMailbox("merge-operation-sink", mergeOpSink, log)
	mergePlanner := merge.New(meta.IndexID, deps.MergePolicy, log, mergeIn, mergeOut)
	if err := seedMergePlanner(ctx, deps.Metastore, meta.IndexID, mergePlanner); err != nil {
		return nil, fmt.Errorf("pipeline: seed merge planner: %w", err)
	}
	p.actors = append(p.actors, mergePlanner, &mergeOpDrain{in: mergeOpSink, log: log})

	truncateTargets := make(map[string]*actor.WeakMailbox[checkpoint.SourceCheckpoint])
	sourceCfgs := meta.Sources
	if len(sourceCfgs) == 0 {
		sourceCfgs = map[string]model.SourceConfig{"void": {Kind: model.SourceVoid}}
	}
	for sourceID, cfg := range sourceCfgs {
		sa, ix, closer, err := buildSourcePipeline(meta, sourceID, cfg, deps, log, packagerIn)
		if err != nil {
			return nil, fmt.Errorf("pipeline: build source %q: %w", sourceID, err)
		}
		truncateTargets[sourceID] = actor.NewWeakMailbox(sa.Name(), sa.truncateIn, log)
		p.actors = append(p.actors, sa, ix)
		if closer != nil {
			p.closers = append(p.closers, closer)
		}
	}

	mergeNotify := actor.NewWeakMailbox("merge-planner:"+meta.IndexID, mergeIn, log)
	pub := publisher.New(meta.IndexID, deps.Metastore, sequencerOut, truncateTargets, mergeNotify, log)
	p.actors = append(p.actors, pub)

	return p, nil
}

// buildSourcePipeline constructs one source adapter, its dedicated indexer
// (spec.md §4.3: "consumes RawDocBatch from exactly one source"), and the
// sourceActor wrapper that drives both. Both actors are returned to the
// caller, which appends them to p.actors and wires the source actor's
// truncate mailbox into the publisher's truncate map.
func buildSourcePipeline(meta model.IndexMetadata, sourceID string, cfg model.SourceConfig, deps Deps, log *slog.Logger, packagerIn *actor.Mailbox[model.IndexedSplitBatch]) (*sourceActor, *indexer.Indexer, func() error, error) {
	src, closer, err := newAdapter(meta.IndexID, sourceID, cfg, deps)
	if err != nil {
		return nil, nil, nil, err
	}

	rawIn := actor.NewBoundedMailbox[model.RawDocBatch](mailboxCapacity)
	mapper := docmapper.New(meta.Schema, meta.IndexingSettings)
	ixMetrics := indexer.NewMetrics(deps.MetricsReg, meta.IndexID, sourceID)
	ix := indexer.New(meta.IndexID, sourceID, meta.IndexingSettings, mapper, deps.IDs, ixMetrics, log, rawIn, packagerIn)

	truncateIn := actor.NewBoundedMailbox[checkpoint.SourceCheckpoint](8)
	sa := &sourceActor{
		indexID: meta.IndexID, sourceID: sourceID, src: src,
		out: rawIn, truncateIn: truncateIn, log: log,
	}
	return sa, ix, closer, nil
}

// seedMergePlanner loads the index's currently Published splits so the
// planner's first ApplyUpdate call evaluates against real history.
func seedMergePlanner(ctx context.Context, ms metastore.Metastore, indexID string, planner *merge.Planner) error {
	published := model.SplitPublished
	splits, err := ms.ListSplits(ctx, indexID, &published, nil, nil)
	if err != nil {
		return err
	}
	planner.Seed(splits)
	return nil
}

// Run spawns every actor, starts the supervisor, and blocks until all
// actors have exited (normal completion) or the kill switch fires and the
// supervisor has finalized everyone. It returns each actor's terminal
// ExitStatus keyed by name.
func (p *Pipeline) Run(ctx context.Context) map[string]actor.ExitStatus {
	go p.Sup.Run()

	type spawned struct {
		name string
		done <-chan actor.ExitStatus
	}
	entries := make([]spawned, 0, len(p.actors))
	for _, a := range p.actors {
		actorCtx := actor.NewContext(a.Name(), p.Kill)
		finalize := func() { actorCtx.Close() }
		done := actor.Spawn(a, p.Sup, actorCtx, finalize)
		entries = append(entries, spawned{name: a.Name(), done: done})
	}

	results := make(map[string]actor.ExitStatus, len(entries))
	for _, e := range entries {
		results[e.name] = <-e.done
	}

	p.Sup.Stop(ctx)
	for _, c := range p.closers {
		if err := c(); err != nil {
			p.log.Warn("pipeline: source close failed", "index_id", p.IndexID, "error", err)
		}
	}
	return results
}

// mergeOpDrain is the placeholder consumer of emitted MergeOperations
// (SPEC_FULL.md §5.8: actual merge/demux execution is a downstream
// sub-pipeline out of this repo's scope). It just logs and exits with the
// pipeline.
type mergeOpDrain struct {
	in  *actor.Mailbox[merge.MergeOperation]
	log *slog.Logger
}

func (d *mergeOpDrain) Name() string    { return "merge-operation-sink" }
func (d *mergeOpDrain) Pool() actor.Pool { return actor.PoolAsync }

func (d *mergeOpDrain) Run(actorCtx *actor.Context) actor.ExitStatus {
	ctx := actorCtx.Ctx()
	for {
		select {
		case <-ctx.Done():
			return actor.ExitKilled
		case op, ok := <-d.in.Chan():
			if !ok {
				return actor.ExitDownstreamClosed
			}
			actorCtx.Progress()
			d.log.Info("pipeline: merge operation emitted, no downstream consumer wired", "kind", op.Kind.String(), "num_replaced", len(op.ReplacedSplits))
		}
	}
}
