// Package merge is the MergePlanner: a stateful view of one index's
// Published splits that evaluates merge/demux policy inputs and emits the
// state transitions a downstream indexing sub-pipeline consumes (spec.md
// §4.7). The policy heuristic itself is explicitly out of scope (spec.md
// Non-goals: "the merge/demux policies beyond the state transitions they
// drive") — Policy.Evaluate below is a minimal threshold rule sufficient to
// drive those transitions, not a tuned production heuristic.
package merge

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/model"
	"github.com/wessley-search/splitcore/pkg/fn"
)

// OperationKind distinguishes the two split-rewrite operations spec.md §4.7
// names.
type OperationKind int

const (
	OpMerge OperationKind = iota
	OpDemux
)

func (k OperationKind) String() string {
	if k == OpDemux {
		return "demux"
	}
	return "merge"
}

// MergeOperation is what the planner emits: a set of Published splits a
// downstream indexing sub-pipeline should read, combine or rewrite, and
// publish as replacements (spec.md §4.7 — publishing marks these
// ReplacedSplits MarkedForDeletion via the normal publish_splits path).
type MergeOperation struct {
	ReplacedSplits []model.SplitMetadata
	Kind           OperationKind
}

// Policy holds the threshold inputs this planner evaluates: doc count per
// split and demux_num_ops. Total split size is not an input.
type Policy struct {
	// MinMergeFactor is the minimum number of under-target splits combined
	// into a single merge operation.
	MinMergeFactor int
	// TargetDocsPerSplit: a Published split with fewer docs than this is a
	// merge candidate.
	TargetDocsPerSplit int
	// MaxDemuxOps: a Published split with demux_num_ops above this is a
	// demux candidate.
	MaxDemuxOps int
}

// DefaultPolicy mirrors the indexer's default split target (spec.md §6).
var DefaultPolicy = Policy{MinMergeFactor: 3, TargetDocsPerSplit: 5_000_000, MaxDemuxOps: 1}

// Evaluate inspects splits (assumed all Published) and returns the merge and
// demux operations the policy currently calls for. Deterministic: splits
// are considered in SplitID order so repeated calls over the same input
// produce the same grouping.
func (p Policy) Evaluate(splits []model.SplitMetadata) []MergeOperation {
	sorted := append([]model.SplitMetadata(nil), splits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SplitID < sorted[j].SplitID })

	isDemux := func(s model.SplitMetadata) bool { return p.MaxDemuxOps > 0 && s.DemuxNumOps > p.MaxDemuxOps }
	isSmall := func(s model.SplitMetadata) bool { return p.TargetDocsPerSplit > 0 && s.NumDocs < p.TargetDocsPerSplit }

	ops := fn.Map(fn.Filter(sorted, isDemux), func(s model.SplitMetadata) MergeOperation {
		return MergeOperation{ReplacedSplits: []model.SplitMetadata{s}, Kind: OpDemux}
	})
	small := fn.Filter(sorted, isSmall)

	if p.MinMergeFactor > 0 {
		batches := fn.Chunk(small, p.MinMergeFactor)
		for _, batch := range batches {
			if len(batch) < p.MinMergeFactor {
				break // a trailing partial batch waits for more candidates next round
			}
			ops = append(ops, MergeOperation{ReplacedSplits: batch, Kind: OpMerge})
		}
	}
	return ops
}

// Planner is the actor wrapping Policy with the Published-split state spec.md
// §4.7 requires: it tracks one index's Published splits across successive
// SplitUpdate notifications so callers never need to replay the full split
// list.
type Planner struct {
	IndexID string
	Policy  Policy
	Log     *slog.Logger

	In  *actor.Mailbox[model.SplitUpdate]
	Out *actor.WeakMailbox[MergeOperation] // downstream indexing sub-pipeline, best-effort

	mu        sync.Mutex
	published map[string]model.SplitMetadata
}

// New builds a Planner for one index.
func New(indexID string, policy Policy, log *slog.Logger, in *actor.Mailbox[model.SplitUpdate], out *actor.WeakMailbox[MergeOperation]) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{IndexID: indexID, Policy: policy, Log: log, In: in, Out: out, published: make(map[string]model.SplitMetadata)}
}

// Seed primes the tracked Published set at startup (e.g. from
// metastore.ListSplits(Published) on a cold start), so the planner's view
// isn't limited to splits published after it was spawned.
func (p *Planner) Seed(splits []model.SplitMetadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range splits {
		p.published[s.SplitID] = s
	}
}

func (p *Planner) Name() string { return "merge-planner:" + p.IndexID }

func (p *Planner) Pool() actor.Pool { return actor.PoolAsync }

func (p *Planner) Run(actorCtx *actor.Context) actor.ExitStatus {
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
			for _, op := range p.ApplyUpdate(update) {
				p.Out.Send(ctx, op)
			}
		}
	}
}

// ApplyUpdate folds a SplitUpdate into the tracked Published set (removing
// ReplacedSplitIDs, adding NewSplits) and returns any operations the policy
// now calls for. Splits named by an emitted operation are removed from the
// tracked set so they aren't reconsidered until they reappear as new splits
// (they only would if a merge/demux submission never got published).
func (p *Planner) ApplyUpdate(update model.SplitUpdate) []MergeOperation {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range update.ReplacedSplitIDs {
		delete(p.published, id)
	}
	for _, s := range update.NewSplits {
		p.published[s.SplitID] = s
	}

	splits := make([]model.SplitMetadata, 0, len(p.published))
	for _, s := range p.published {
		splits = append(splits, s)
	}
	ops := p.Policy.Evaluate(splits)
	for _, op := range ops {
		for _, s := range op.ReplacedSplits {
			delete(p.published, s.SplitID)
		}
	}
	return ops
}
