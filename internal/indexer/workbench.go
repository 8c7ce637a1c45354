// Package indexer consumes RawDocBatch messages from one source and
// produces IndexedSplitBatch messages for the packager (spec.md §4.3).
package indexer

import (
	"os"
	"time"

	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/model"
	"github.com/wessley-search/splitcore/pkg/idgen"
)

// Workbench is the indexer's accumulating unit of work between commits: an
// accruing checkpoint delta and one IndexedSplit per partition key
// (spec.md §4.3).
type Workbench struct {
	ID           string
	Delta        *checkpoint.IndexCheckpointDelta // nil until the first batch arrives
	Splits       map[uint64]*model.IndexedSplit
	DateOfBirth  time.Time
	NumValidDocs int

	writers map[uint64]*segmentWriter
}

// NewWorkbench opens a fresh workbench.
func NewWorkbench(id string) *Workbench {
	return &Workbench{
		ID:          id,
		Splits:      make(map[uint64]*model.IndexedSplit),
		writers:     make(map[uint64]*segmentWriter),
		DateOfBirth: time.Now(),
	}
}

// splitFor returns the IndexedSplit and its segment writer for partitionKey,
// opening a new one (and its scratch directory) if this workbench hasn't
// seen that key yet. Keying Splits by partition_key is what makes invariant
// 6 (partition homogeneity) structural rather than enforced: a second
// document sharing a key always lands back in the split already open for it
// (spec.md §3, SPEC_FULL.md §5.4).
func (w *Workbench) splitFor(indexID string, partitionKey uint64, idSource *idgen.Source, settings model.IndexingSettings) (*model.IndexedSplit, *segmentWriter, error) {
	if s, ok := w.Splits[partitionKey]; ok {
		return s, w.writers[partitionKey], nil
	}
	dir, err := os.MkdirTemp("", "split-"+indexID+"-")
	if err != nil {
		return nil, nil, model.NewError(model.KindIO, "Workbench.splitFor", err)
	}
	s := &model.IndexedSplit{
		SplitID:      idSource.NewSplitID(),
		PartitionKey: partitionKey,
		ScratchDir:   dir,
	}
	sw := newSegmentWriter(dir, settings)
	w.Splits[partitionKey] = s
	w.writers[partitionKey] = sw
	return s, sw, nil
}

// extendDelta folds a new per-batch delta into the workbench's accumulating
// delta (spec.md §4.3: "An accumulating IndexCheckpointDelta ... extend-
// failure is fatal — the source has regressed").
func (w *Workbench) extendDelta(next checkpoint.IndexCheckpointDelta) error {
	if w.Delta == nil {
		w.Delta = &next
		return nil
	}
	extended, err := w.Delta.SourceDelta.Extend(next.SourceDelta)
	if err != nil {
		return err
	}
	w.Delta = &checkpoint.IndexCheckpointDelta{SourceID: next.SourceID, SourceDelta: extended}
	return nil
}
