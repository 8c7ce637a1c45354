// Package metastore defines the contract for the authoritative mapping from
// indexes to splits (spec.md §4.9) plus the two concrete backends:
// internal/metastore/filestore (JSON-per-index) and
// internal/metastore/sqlstore (database/sql + lib/pq).
package metastore

import (
	"context"

	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/model"
)

// Metastore is the authoritative store of index and split metadata
// (spec.md §4.9). Implementations must make PublishSplits atomic: either
// all of (stage new splits published, replaced splits marked for deletion,
// checkpoint delta applied) happens, or none does.
type Metastore interface {
	CreateIndex(ctx context.Context, meta model.IndexMetadata) error
	DeleteIndex(ctx context.Context, indexID string) error
	IndexMetadata(ctx context.Context, indexID string) (model.IndexMetadata, error)
	ListIndexesMetadatas(ctx context.Context) ([]model.IndexMetadata, error)

	StageSplit(ctx context.Context, indexID string, meta model.SplitMetadata) error
	PublishSplits(ctx context.Context, indexID string, newIDs, replacedIDs []string, delta *checkpoint.IndexCheckpointDelta) error
	MarkSplitsForDeletion(ctx context.Context, indexID string, splitIDs []string) error
	DeleteSplits(ctx context.Context, indexID string, splitIDs []string) error
	ListSplits(ctx context.Context, indexID string, state *model.SplitState, timeRange *model.TimeRange, tags []string) ([]model.SplitMetadata, error)

	AddSource(ctx context.Context, indexID string, cfg model.SourceConfig) error
	DeleteSource(ctx context.Context, indexID, sourceID string) error
}
