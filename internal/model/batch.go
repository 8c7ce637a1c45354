package model

import (
	"time"

	"github.com/wessley-search/splitcore/internal/checkpoint"
)

// RawDocBatch is what a Source adapter emits (spec §3, §4.2). Final marks
// the source's clean-termination signal (e.g. file EOF, Kafka backfill
// completion) — the indexer flushes any open workbench and exits on receipt
// rather than waiting for another batch or the commit timeout.
type RawDocBatch struct {
	Docs            []string
	CheckpointDelta checkpoint.IndexCheckpointDelta
	Final           bool
}

// IndexedSplitBatch is what the indexer emits per commit trigger (spec §4.3).
type IndexedSplitBatch struct {
	IndexID         string
	Splits          []*IndexedSplit
	CheckpointDelta checkpoint.IndexCheckpointDelta
	DateOfBirth     time.Time
}

// IndexedSplit is an in-memory segment builder bound to a scratch directory,
// not yet packaged (spec §4.3). Packager turns this into a PackagedSplit.
type IndexedSplit struct {
	SplitID      string
	PartitionKey uint64
	ScratchDir   string
	NumValidDocs int
	TimeRange    TimeRange
	SegmentFiles []string // populated by the indexer's segment writer on flush
}

// PackagedSplit is a flushed, hotcache-built split ready for upload (spec §4.4).
type PackagedSplit struct {
	Metadata     SplitMetadata
	SplitFiles   []string // paths of segment files to concatenate, in order
	HotcacheBytes []byte
}

// PackagedSplitBatch is what the packager emits (spec §4.4).
type PackagedSplitBatch struct {
	IndexID         string
	Splits          []*PackagedSplit
	CheckpointDelta checkpoint.IndexCheckpointDelta
	DateOfBirth     time.Time
}

// SplitUpdate is what the uploader sends to the Sequencer/Publisher once a
// batch's uploads resolve (spec §4.5, §4.6).
type SplitUpdate struct {
	IndexID          string
	NewSplits        []SplitMetadata
	ReplacedSplitIDs []string
	CheckpointDelta  *checkpoint.IndexCheckpointDelta // nil if this update carries none
	DateOfBirth      time.Time
}
