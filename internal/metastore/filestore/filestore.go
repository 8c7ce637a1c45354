// Package filestore is a Metastore backed by two JSON files per index
// (spec.md §4.9): metastore.json holds the index metadata and splits.json
// holds its splits, so the two are not stored as one JSON object. An
// advisory flock keeps multiple processes sharing a metastore URI from
// interleaving writes.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/metastore"
	"github.com/wessley-search/splitcore/internal/model"
)

// Store is a Metastore rooted at a local directory: each index's metadata
// lives at <root>/<index_id>/metastore.json and its splits at
// <root>/<index_id>/splits.json. A per-process mutex serializes concurrent
// callers within this store; an OS-level flock on <root>/<index_id>/.lock
// serializes concurrent processes (spec.md §4.9's
// single-writer requirement — the teacher's pack has no distributed lock
// service, so this mirrors how a single metastore-tool process is expected
// to own an index at a time).
type Store struct {
	root string
	log  *slog.Logger

	mu sync.Mutex // serializes in-process access across indexes
}

// New builds a Store rooted at root (the part of a file:// metastore URI
// after the scheme).
func New(root string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{root: root, log: log}
}

var _ metastore.Metastore = (*Store)(nil)

func (s *Store) indexDir(indexID string) string { return filepath.Join(s.root, indexID) }
func (s *Store) indexFile(indexID string) string {
	return filepath.Join(s.indexDir(indexID), "metastore.json")
}

func (s *Store) CreateIndex(ctx context.Context, meta model.IndexMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.indexDir(meta.IndexID)
	if _, err := os.Stat(dir); err == nil {
		return model.NewError(model.KindAlreadyExists, "filestore.CreateIndex", model.ErrIndexAlreadyExists)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.NewError(model.KindIO, "filestore.CreateIndex", err)
	}
	return s.writeLocked(meta)
}

func (s *Store) DeleteIndex(ctx context.Context, indexID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.indexDir(indexID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return model.NewError(model.KindNotFound, "filestore.DeleteIndex", model.ErrIndexDoesNotExist)
	}
	if err := os.RemoveAll(dir); err != nil {
		return model.NewError(model.KindIO, "filestore.DeleteIndex", err)
	}
	return nil
}

func (s *Store) IndexMetadata(ctx context.Context, indexID string) (model.IndexMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(indexID)
}

func (s *Store) ListIndexesMetadatas(ctx context.Context) ([]model.IndexMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, model.NewError(model.KindIO, "filestore.ListIndexesMetadatas", err)
	}
	out := make([]model.IndexMetadata, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.readLocked(e.Name())
		if err != nil {
			s.log.Warn("filestore: skipping unreadable index directory", "index_id", e.Name(), "error", err)
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

func (s *Store) StageSplit(ctx context.Context, indexID string, meta model.SplitMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.indexFile(indexID)); err != nil {
		return model.NewError(model.KindNotFound, "filestore.StageSplit", model.ErrIndexDoesNotExist)
	}
	return s.stageSplit(indexID, meta)
}

func (s *Store) PublishSplits(ctx context.Context, indexID string, newIDs, replacedIDs []string, delta *checkpoint.IndexCheckpointDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.flock(indexID)
	if err != nil {
		return err
	}
	defer unlock()

	idx, err := s.readLockedNoFlock(indexID)
	if err != nil {
		return err
	}
	splits, err := s.readSplitsNoFlock(indexID)
	if err != nil {
		return err
	}

	for _, id := range newIDs {
		sp, ok := splits[id]
		if !ok || !sp.CanTransitionToPublished() {
			return model.NewError(model.KindPreconditionFailed, "filestore.PublishSplits", model.ErrSplitIsNotStaged)
		}
		sp.State = model.SplitPublished
		splits[id] = sp
	}
	for _, id := range replacedIDs {
		if sp, ok := splits[id]; ok {
			sp.State = model.SplitMarkedForDeletion
			sp.UpdateTimestamp = time.Now()
			splits[id] = sp
		}
	}

	if delta != nil {
		ck, ok := idx.Checkpoint[delta.SourceID]
		if !ok {
			ck = checkpoint.SourceCheckpoint{}
		}
		next, err := checkpoint.Apply(ck, delta.SourceDelta)
		if err != nil {
			return model.NewError(model.KindPreconditionFailed, "filestore.PublishSplits", err)
		}
		idx.Checkpoint[delta.SourceID] = next
	}

	if err := s.writeSplitsNoFlock(indexID, splits); err != nil {
		return err
	}
	return s.writeNoFlock(idx)
}

func (s *Store) MarkSplitsForDeletion(ctx context.Context, indexID string, splitIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.flock(indexID)
	if err != nil {
		return err
	}
	defer unlock()

	splits, err := s.readSplitsNoFlock(indexID)
	if err != nil {
		return err
	}
	for _, id := range splitIDs {
		sp, ok := splits[id]
		if !ok || !sp.CanTransitionToMarkedForDeletion() {
			continue
		}
		sp.State = model.SplitMarkedForDeletion
		sp.UpdateTimestamp = time.Now()
		splits[id] = sp
	}
	return s.writeSplitsNoFlock(indexID, splits)
}

func (s *Store) DeleteSplits(ctx context.Context, indexID string, splitIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.flock(indexID)
	if err != nil {
		return err
	}
	defer unlock()

	splits, err := s.readSplitsNoFlock(indexID)
	if err != nil {
		return err
	}
	for _, id := range splitIDs {
		delete(splits, id)
	}
	return s.writeSplitsNoFlock(indexID, splits)
}

func (s *Store) ListSplits(ctx context.Context, indexID string, state *model.SplitState, timeRange *model.TimeRange, tags []string) ([]model.SplitMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	splits, err := s.readSplitsNoFlock(indexID)
	if err != nil {
		return nil, err
	}
	out := make([]model.SplitMetadata, 0, len(splits))
	for _, sp := range splits {
		if state != nil && sp.State != *state {
			continue
		}
		if timeRange != nil && sp.TimeRange.Set && (sp.TimeRange.Max < timeRange.Min || sp.TimeRange.Min > timeRange.Max) {
			continue
		}
		if !hasAllTags(sp, tags) {
			continue
		}
		out = append(out, sp)
	}
	return out, nil
}

func hasAllTags(sp model.SplitMetadata, tags []string) bool {
	for _, t := range tags {
		if !sp.HasTag(t) {
			return false
		}
	}
	return true
}

func (s *Store) AddSource(ctx context.Context, indexID string, cfg model.SourceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readLocked(indexID)
	if err != nil {
		return err
	}
	idx.Sources[cfg.SourceID] = cfg
	if _, ok := idx.Checkpoint[cfg.SourceID]; !ok {
		idx.Checkpoint[cfg.SourceID] = checkpoint.SourceCheckpoint{}
	}
	return s.writeLocked(idx)
}

func (s *Store) DeleteSource(ctx context.Context, indexID, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readLocked(indexID)
	if err != nil {
		return err
	}
	delete(idx.Sources, sourceID)
	delete(idx.Checkpoint, sourceID)
	return s.writeLocked(idx)
}

// --- locked read/write helpers ---
//
// readLocked/writeLocked take the flock themselves; the *NoFlock variants
// are used by callers (PublishSplits etc.) that already hold it so the
// flock is acquired exactly once per operation.

func (s *Store) readLocked(indexID string) (model.IndexMetadata, error) {
	unlock, err := s.flock(indexID)
	if err != nil {
		return model.IndexMetadata{}, err
	}
	defer unlock()
	return s.readLockedNoFlock(indexID)
}

func (s *Store) readLockedNoFlock(indexID string) (model.IndexMetadata, error) {
	b, err := os.ReadFile(s.indexFile(indexID))
	if err != nil {
		if os.IsNotExist(err) {
			return model.IndexMetadata{}, model.NewError(model.KindNotFound, "filestore.readLocked", model.ErrIndexDoesNotExist)
		}
		return model.IndexMetadata{}, model.NewError(model.KindIO, "filestore.readLocked", err)
	}
	var meta model.IndexMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return model.IndexMetadata{}, model.NewError(model.KindCorruption, "filestore.readLocked", err)
	}
	return meta, nil
}

func (s *Store) writeLocked(meta model.IndexMetadata) error {
	unlock, err := s.flock(meta.IndexID)
	if err != nil {
		return err
	}
	defer unlock()
	return s.writeNoFlock(meta)
}

func (s *Store) writeNoFlock(meta model.IndexMetadata) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return model.NewError(model.KindInternal, "filestore.write", err)
	}
	if err := os.WriteFile(s.indexFile(meta.IndexID), b, 0o644); err != nil {
		return model.NewError(model.KindIO, "filestore.write", err)
	}
	return nil
}

func (s *Store) splitsFile(indexID string) string {
	return filepath.Join(s.indexDir(indexID), "splits.json")
}

func (s *Store) readSplitsNoFlock(indexID string) (map[string]model.SplitMetadata, error) {
	b, err := os.ReadFile(s.splitsFile(indexID))
	if os.IsNotExist(err) {
		return make(map[string]model.SplitMetadata), nil
	}
	if err != nil {
		return nil, model.NewError(model.KindIO, "filestore.readSplits", err)
	}
	var splits map[string]model.SplitMetadata
	if err := json.Unmarshal(b, &splits); err != nil {
		return nil, model.NewError(model.KindCorruption, "filestore.readSplits", err)
	}
	return splits, nil
}

func (s *Store) writeSplitsNoFlock(indexID string, splits map[string]model.SplitMetadata) error {
	b, err := json.MarshalIndent(splits, "", "  ")
	if err != nil {
		return model.NewError(model.KindInternal, "filestore.writeSplits", err)
	}
	if err := os.WriteFile(s.splitsFile(indexID), b, 0o644); err != nil {
		return model.NewError(model.KindIO, "filestore.writeSplits", err)
	}
	return nil
}

func (s *Store) stageSplit(indexID string, meta model.SplitMetadata) error {
	unlock, err := s.flock(indexID)
	if err != nil {
		return err
	}
	defer unlock()

	splits, err := s.readSplitsNoFlock(indexID)
	if err != nil {
		return err
	}
	splits[meta.SplitID] = meta
	return s.writeSplitsNoFlock(indexID, splits)
}

// flock takes an advisory, exclusive OS-level lock on the index's lock
// file so a second process sharing this metastore root can't interleave a
// read-modify-write with this one. Returns a release function.
func (s *Store) flock(indexID string) (func(), error) {
	path := filepath.Join(s.indexDir(indexID), ".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.NewError(model.KindNotFound, "filestore.flock", model.ErrIndexDoesNotExist)
		}
		return nil, model.NewError(model.KindIO, "filestore.flock", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, model.NewError(model.KindIO, "filestore.flock", fmt.Errorf("flock %s: %w", path, err))
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}
