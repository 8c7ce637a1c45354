// Package gc is the background reclaimer: two ordered sweeps per index that
// catch uploads that never landed and splits whose grace period has
// elapsed (spec.md §4.8).
package gc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wessley-search/splitcore/internal/metastore"
	"github.com/wessley-search/splitcore/internal/model"
	"github.com/wessley-search/splitcore/internal/storage"
	"github.com/wessley-search/splitcore/pkg/fn"
)

// Collector runs the two sweeps for one index.
type Collector struct {
	IndexID   string
	Metastore metastore.Metastore
	Storage   storage.Storage
	Log       *slog.Logger

	// StagedGracePeriod bounds how long a split may sit Staged before the
	// sweep assumes its upload never completed.
	StagedGracePeriod time.Duration
	// DeletionGracePeriod bounds how long a split may sit MarkedForDeletion
	// before its object and metastore row are actually reclaimed — gives
	// in-flight searches time to finish against a split no longer
	// considered current.
	DeletionGracePeriod time.Duration

	// DryRun short-circuits both sweeps to logging what would be deleted,
	// without mutating storage or the metastore.
	DryRun bool
}

// New builds a Collector for one index.
func New(indexID string, ms metastore.Metastore, st storage.Storage, stagedGrace, deletionGrace time.Duration, dryRun bool, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{
		IndexID: indexID, Metastore: ms, Storage: st,
		StagedGracePeriod: stagedGrace, DeletionGracePeriod: deletionGrace,
		DryRun: dryRun, Log: log,
	}
}

// SweepOnce runs both sweeps in the required order (spec.md §4.8): staged
// splits that timed out are marked for deletion first, so a split that
// crosses both grace periods in a single pass is still caught by the
// marked-for-deletion sweep on the very next run rather than skipped.
func (c *Collector) SweepOnce(ctx context.Context) error {
	if err := c.sweepStagedTimeout(ctx); err != nil {
		return fmt.Errorf("gc: staged-timeout sweep: %w", err)
	}
	if err := c.sweepMarkedForDeletion(ctx); err != nil {
		return fmt.Errorf("gc: marked-for-deletion sweep: %w", err)
	}
	return nil
}

// sweepStagedTimeout catches uploads the metastore saw staged but whose
// object was never successfully uploaded (spec.md §4.8 step 1).
func (c *Collector) sweepStagedTimeout(ctx context.Context) error {
	staged := model.SplitStaged
	splits, err := c.Metastore.ListSplits(ctx, c.IndexID, &staged, nil, nil)
	if err != nil {
		return err
	}

	now := time.Now()
	expired := fn.FilterMap(splits, func(s model.SplitMetadata) (string, bool) {
		return s.SplitID, now.Sub(s.CreateTimestamp) > c.StagedGracePeriod
	})
	if len(expired) == 0 {
		return nil
	}
	if c.DryRun {
		c.Log.Info("gc: dry-run would mark staged-timeout splits for deletion", "index_id", c.IndexID, "split_ids", expired)
		return nil
	}
	c.Log.Info("gc: marking staged-timeout splits for deletion", "index_id", c.IndexID, "split_ids", expired)
	return c.Metastore.MarkSplitsForDeletion(ctx, c.IndexID, expired)
}

// sweepMarkedForDeletion reclaims splits whose deletion grace period has
// elapsed: storage.Delete before metastore.DeleteSplits, so a crash between
// the two leaves an orphan object a future sweep ignores rather than a
// metastore row pointing at nothing (spec.md §4.8 step 2, invariant 4).
func (c *Collector) sweepMarkedForDeletion(ctx context.Context) error {
	marked := model.SplitMarkedForDeletion
	splits, err := c.Metastore.ListSplits(ctx, c.IndexID, &marked, nil, nil)
	if err != nil {
		return err
	}

	now := time.Now()
	toDelete := fn.FilterMap(splits, func(s model.SplitMetadata) (string, bool) {
		return s.SplitID, now.Sub(s.UpdateTimestamp) > c.DeletionGracePeriod
	})
	if len(toDelete) == 0 {
		return nil
	}
	if c.DryRun {
		c.Log.Info("gc: dry-run would delete splits", "index_id", c.IndexID, "split_ids", toDelete)
		return nil
	}

	for _, id := range toDelete {
		if err := c.Storage.Delete(ctx, splitPath(c.IndexID, id)); err != nil {
			return fmt.Errorf("delete object for split %s: %w", id, err)
		}
	}
	c.Log.Info("gc: deleting splits", "index_id", c.IndexID, "split_ids", toDelete)
	return c.Metastore.DeleteSplits(ctx, c.IndexID, toDelete)
}

func splitPath(indexID, splitID string) string {
	return fmt.Sprintf("%s/%s.split", indexID, splitID)
}

// Run sweeps on every tick of interval until ctx is done (spec.md §5.9: the
// periodic mode cmd/gc drives; -once calls SweepOnce directly instead).
func (c *Collector) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.SweepOnce(ctx); err != nil {
				c.Log.Error("gc: sweep failed", "index_id", c.IndexID, "error", err)
			}
		}
	}
}
