package indexer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/docmapper"
	"github.com/wessley-search/splitcore/internal/model"
	"github.com/wessley-search/splitcore/pkg/idgen"
	"github.com/wessley-search/splitcore/pkg/metrics"
)

// Metrics are registered once per indexer instance, following
// cmd/ingest/main.go's mErrorsTotal(stage string)-style label closures
// (SPEC_FULL.md §5.4).
type Metrics struct {
	ParseErrors   *metrics.Counter
	MissingFields *metrics.Counter
	ValidDocs     *metrics.Counter
	SplitsEmitted *metrics.Counter
}

// NewMetrics registers the indexer's counters on reg, labeled by index and
// source ID.
func NewMetrics(reg *metrics.Registry, indexID, sourceID string) *Metrics {
	labels := func(name string) string {
		return metrics.WithLabels(name, "index_id", indexID, "source_id", sourceID)
	}
	return &Metrics{
		ParseErrors:   reg.Counter(labels("splitcore_indexer_parse_errors_total"), "Documents rejected for malformed JSON"),
		MissingFields: reg.Counter(labels("splitcore_indexer_missing_field_total"), "Documents rejected for a missing required field"),
		ValidDocs:     reg.Counter(labels("splitcore_indexer_valid_docs_total"), "Documents successfully indexed"),
		SplitsEmitted: reg.Counter(labels("splitcore_indexer_splits_emitted_total"), "IndexedSplits emitted per commit"),
	}
}

// commitSignal is the self-scheduled message an indexer sends itself via
// actor.ScheduleSelfMsg to enforce CommitTimeout. It carries the workbench
// ID it was scheduled for so a timeout superseded by an already-committed
// workbench is ignored (spec.md §4.3).
type commitSignal struct {
	workbenchID string
}

// Indexer consumes RawDocBatch from exactly one source and produces
// IndexedSplitBatch for the packager (spec.md §4.3).
type Indexer struct {
	IndexID  string
	SourceID string

	Settings model.IndexingSettings
	Mapper   *docmapper.Mapper
	IDs      *idgen.Source
	Metrics  *Metrics
	Log      *slog.Logger

	In  *actor.Mailbox[model.RawDocBatch]
	Out *actor.Mailbox[model.IndexedSplitBatch]

	timeouts *actor.Mailbox[commitSignal]
	wb       *Workbench
}

// New builds an Indexer. In is the mailbox the bound source sends
// RawDocBatch to; Out is the packager's mailbox.
func New(indexID, sourceID string, settings model.IndexingSettings, mapper *docmapper.Mapper, ids *idgen.Source, m *Metrics, log *slog.Logger, in *actor.Mailbox[model.RawDocBatch], out *actor.Mailbox[model.IndexedSplitBatch]) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		IndexID: indexID, SourceID: sourceID, Settings: settings, Mapper: mapper,
		IDs: ids, Metrics: m, Log: log, In: in, Out: out,
		timeouts: actor.NewBoundedMailbox[commitSignal](4),
	}
}

func (ix *Indexer) Name() string { return "indexer:" + ix.IndexID + ":" + ix.SourceID }

func (ix *Indexer) Pool() actor.Pool { return actor.PoolBlocking }

// Run drives the "receive until timeout or threshold" loop (spec.md §9
// "Coroutine control flow"): a single select racing batch arrival, the
// scheduled commit timeout, and ctx.Done() — the same shape as
// pkg/fn.Retry's two-armed select, generalized to three arms, with
// cmd/ingest's `for { select { ...; case <-ticker.C: scan() } }` loop as the
// second precedent (SPEC_FULL.md §5.4).
func (ix *Indexer) Run(actorCtx *actor.Context) actor.ExitStatus {
	ctx := actorCtx.Ctx()
	defer actorCtx.Close()
	ix.openWorkbench(actorCtx)

	for {
		select {
		case <-ctx.Done():
			ix.finalize(ctx)
			return actor.ExitKilled

		case batch, ok := <-ix.In.Chan():
			if !ok {
				ix.finalize(ctx)
				return actor.ExitDownstreamClosed
			}
			actorCtx.Progress()
			if batch.Final {
				ix.finalize(ctx)
				return actor.ExitSuccess
			}
			ix.handleBatch(ctx, batch)
			if ix.wb.NumValidDocs >= ix.Settings.SplitNumDocsTarget && ix.Settings.SplitNumDocsTarget > 0 {
				ix.commit(ctx)
				ix.openWorkbench(actorCtx)
			}

		case sig := <-ix.timeouts.Chan():
			actorCtx.Progress()
			if ix.wb != nil && ix.wb.ID == sig.workbenchID {
				ix.commit(ctx)
				ix.openWorkbench(actorCtx)
			}
			// else: stale timeout for a superseded workbench_id, ignored.
		}
	}
}

func (ix *Indexer) openWorkbench(actorCtx *actor.Context) {
	ix.wb = NewWorkbench(ix.IDs.NewWorkbenchID())
	if ix.Settings.CommitTimeout > 0 {
		actor.ScheduleSelfMsg(actorCtx, ix.timeouts, ix.Settings.CommitTimeout, commitSignal{workbenchID: ix.wb.ID})
	}
}

// handleBatch classifies every document in batch, routes valid ones into
// their partition's split, and extends the workbench's checkpoint delta
// (spec.md §4.3).
func (ix *Indexer) handleBatch(ctx context.Context, batch model.RawDocBatch) {
	for _, raw := range batch.Docs {
		doc, outcome, err := ix.Mapper.Map([]byte(raw))
		switch outcome {
		case docmapper.ParseError:
			ix.Metrics.ParseErrors.Inc()
			ix.Log.Debug("indexer: dropping malformed document", "index_id", ix.IndexID, "error", err)
			continue
		case docmapper.MissingField:
			ix.Metrics.MissingFields.Inc()
			continue
		}

		split, writer, err := ix.wb.splitFor(ix.IndexID, doc.PartitionKey, ix.IDs, ix.Settings)
		if err != nil {
			ix.Log.Error("indexer: failed to open split scratch dir", "index_id", ix.IndexID, "error", err)
			continue
		}
		normalized, merr := json.Marshal(doc.Fields)
		if merr != nil {
			ix.Metrics.ParseErrors.Inc()
			continue
		}
		if err := writer.WriteDoc(normalized); err != nil {
			ix.Log.Error("indexer: segment write failed", "index_id", ix.IndexID, "split_id", split.SplitID, "error", err)
			continue
		}
		split.NumValidDocs++
		ix.wb.NumValidDocs++
		if doc.HasTimestamp {
			split.TimeRange.Extend(doc.Timestamp.Unix())
		}
		ix.Metrics.ValidDocs.Inc()
	}

	if err := ix.wb.extendDelta(batch.CheckpointDelta); err != nil {
		// spec.md §4.3: "extend-failure is fatal — the source has regressed".
		ix.Log.Error("indexer: checkpoint delta regressed, killing pipeline", "index_id", ix.IndexID, "error", err)
		panic(err) // surfaced as ExitPanicked by the recover in actor.Spawn
	}
}

// commit emits the workbench's accumulated splits (spec.md §4.3). A
// workbench that never received a batch (Delta is nil) is left open rather
// than published — SPEC_FULL.md §5.4's "zero-doc timeout: no split, no
// publish".
func (ix *Indexer) commit(ctx context.Context) {
	if ix.wb.Delta == nil {
		return
	}
	splits := make([]*model.IndexedSplit, 0, len(ix.wb.Splits))
	for key, s := range ix.wb.Splits {
		if writer, ok := ix.wb.writers[key]; ok {
			files, err := writer.Flush()
			if err != nil {
				ix.Log.Error("indexer: final segment flush failed", "index_id", ix.IndexID, "split_id", s.SplitID, "error", err)
				continue
			}
			s.SegmentFiles = files
		}
		splits = append(splits, s)
	}
	ix.Metrics.SplitsEmitted.Add(int64(len(splits)))

	_ = ix.Out.Send(ctx, model.IndexedSplitBatch{
		IndexID:         ix.IndexID,
		Splits:          splits,
		CheckpointDelta: *ix.wb.Delta,
		DateOfBirth:     ix.wb.DateOfBirth,
	})
}

// finalize flushes any in-flight workbench. Run calls it on every exit
// path: Success, Killed, and a closed inbound mailbox.
func (ix *Indexer) finalize(ctx context.Context) {
	if ix.wb != nil {
		ix.commit(ctx)
	}
}
