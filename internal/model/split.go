package model

import (
	"fmt"
	"time"
)

// SplitState is the split lifecycle state machine (spec §3: Staged ->
// Published -> MarkedForDeletion).
type SplitState int

const (
	SplitStaged SplitState = iota
	SplitPublished
	SplitMarkedForDeletion
)

func (s SplitState) String() string {
	switch s {
	case SplitPublished:
		return "published"
	case SplitMarkedForDeletion:
		return "marked_for_deletion"
	default:
		return "staged"
	}
}

// TimeRange is the inclusive [min, max] range over the configured timestamp
// field, when one is configured (spec §3).
type TimeRange struct {
	Min, Max int64 // unix seconds
	Set      bool
}

// Extend widens the range to include t, setting it if this is the first call.
func (r *TimeRange) Extend(t int64) {
	if !r.Set {
		r.Min, r.Max, r.Set = t, t, true
		return
	}
	if t < r.Min {
		r.Min = t
	}
	if t > r.Max {
		r.Max = t
	}
}

// ByteRange is a half-open [Start, End) byte range within a split object.
type ByteRange struct {
	Start, End int64
}

// Len returns End-Start.
func (r ByteRange) Len() int64 { return r.End - r.Start }

// SplitMetadata is the immutable, content-addressed split record (spec §3).
type SplitMetadata struct {
	SplitID                     string
	IndexID                     string
	PartitionID                 uint64
	NumDocs                     int
	UncompressedDocsSizeInBytes int64
	CreateTimestamp             time.Time
	UpdateTimestamp             time.Time
	TimeRange                   TimeRange
	Tags                        map[string]struct{}
	DemuxNumOps                 int
	FooterOffsets               ByteRange
	ReplacedSplitIDs            []string
	State                       SplitState
}

// SplitPath returns the object path for a split (spec §6:
// <index_root_uri>/<index_id>/<split_id>.split).
func SplitPath(indexRootURI, indexID, splitID string) string {
	return fmt.Sprintf("%s/%s/%s.split", indexRootURI, indexID, splitID)
}

// TagSet builds a Tags set from a slice, the form packager.go gathers them in.
func TagSet(tags ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		out[t] = struct{}{}
	}
	return out
}

// HasTag reports whether the split carries the given tag.
func (m SplitMetadata) HasTag(tag string) bool {
	_, ok := m.Tags[tag]
	return ok
}

// CanTransitionToPublished reports whether m's current state allows the
// Staged -> Published transition (spec §4.9 step 1).
func (m SplitMetadata) CanTransitionToPublished() bool {
	return m.State == SplitStaged
}

// CanTransitionToMarkedForDeletion reports whether m's current state allows
// the -> MarkedForDeletion transition (spec §4.9 step 2: Published or already
// MarkedForDeletion are both acceptable — the operation is idempotent).
func (m SplitMetadata) CanTransitionToMarkedForDeletion() bool {
	return m.State == SplitPublished || m.State == SplitMarkedForDeletion
}
