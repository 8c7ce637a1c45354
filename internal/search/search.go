// Package search is the search leaf's consumer-only view of a split
// (spec.md §4.11): opening a split via its hotcache footer, warming
// docstore block ranges, and fetching raw document bytes. Query parsing,
// scoring, and the field index that would normally resolve a field name or
// document id to a docstore byte range are explicitly out of scope (spec.md
// §1) — this package works at the one granularity the hotcache footer
// actually encodes: the docstore block.
package search

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/wessley-search/splitcore/internal/model"
	"github.com/wessley-search/splitcore/internal/storage"
	"github.com/wessley-search/splitcore/internal/storage/slicecache"
)

const hotcacheRecordSize = 16 // (offset uint64, size uint64), big-endian, per packager.buildHotcache

// SplitHandle is the opaque result of OpenIndex: a split's storage path plus
// its decoded docstore block ranges, ready for bounded-IO reads.
type SplitHandle struct {
	Path    string
	Blocks  []model.ByteRange
	NumDocs int
}

// Limiter holds the two process-wide semaphores spec.md §4.11/§5 names:
// one bounding concurrent split searches, one bounding concurrent streaming
// (Warmup/FetchDocs) requests. A nil *Limiter, or a nil field within one,
// disables that bound — tests build their own small instance.
type Limiter struct {
	Search *semaphore.Weighted
	Stream *semaphore.Weighted
}

// DefaultMaxConcurrentSearches and DefaultMaxConcurrentStreams are spec.md
// §5's suggested starting bounds.
const (
	DefaultMaxConcurrentSearches = 8
	DefaultMaxConcurrentStreams  = 4
)

// NewLimiter builds a Limiter with the given permit counts.
func NewLimiter(maxSearches, maxStreams int64) *Limiter {
	return &Limiter{Search: semaphore.NewWeighted(maxSearches), Stream: semaphore.NewWeighted(maxStreams)}
}

func withPermit(ctx context.Context, sem *semaphore.Weighted, fn func() error) error {
	if sem == nil {
		return fn()
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)
	return fn()
}

// OpenIndex reads meta's hotcache footer (through cache, a read-through
// slice cache shared across splits) and decodes it into docstore block
// ranges (spec.md §4.10/§4.11).
func OpenIndex(ctx context.Context, st storage.Storage, cache *slicecache.Cache, lim *Limiter, meta model.SplitMetadata) (*SplitHandle, error) {
	var handle *SplitHandle
	err := withPermit(ctx, limSearch(lim), func() error {
		path := splitPath(meta.IndexID, meta.SplitID)
		raw, err := readThrough(ctx, st, cache, path, meta.FooterOffsets)
		if err != nil {
			return err
		}
		blocks, err := decodeHotcache(raw)
		if err != nil {
			return err
		}
		handle = &SplitHandle{Path: path, Blocks: blocks, NumDocs: meta.NumDocs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Warmup pre-fetches the given docstore block indices into cache, ahead of
// a FetchDocs call the collector (out of scope) is about to make (spec.md
// §4.11). blockIndices stands in for the spec's "fields []string": this
// repo has no field-to-block index (query parsing/scoring are out of
// scope), so the granularity it actually warms is the block the hotcache
// footer encodes.
func Warmup(ctx context.Context, st storage.Storage, cache *slicecache.Cache, lim *Limiter, handle *SplitHandle, blockIndices []int) error {
	return withPermit(ctx, limStream(lim), func() error {
		for _, idx := range blockIndices {
			br, err := handle.blockRange(idx)
			if err != nil {
				return err
			}
			if _, err := readThrough(ctx, st, cache, handle.Path, br); err != nil {
				return err
			}
		}
		return nil
	})
}

// RawDoc is the undecoded docstore block bytes for one requested block.
type RawDoc struct {
	BlockIndex int
	Bytes      []byte
}

// FetchDocs retrieves the docstore blocks named by blockIndices, through
// cache (spec.md §4.11). Like Warmup, block index is this package's
// granularity in place of the spec's per-document id, since a document's
// offset within a block is resolved by the docstore reader this module
// does not implement (out of scope per spec.md §1).
func FetchDocs(ctx context.Context, st storage.Storage, cache *slicecache.Cache, lim *Limiter, handle *SplitHandle, blockIndices []int) ([]RawDoc, error) {
	var docs []RawDoc
	err := withPermit(ctx, limStream(lim), func() error {
		docs = make([]RawDoc, 0, len(blockIndices))
		for _, idx := range blockIndices {
			br, err := handle.blockRange(idx)
			if err != nil {
				return err
			}
			b, err := readThrough(ctx, st, cache, handle.Path, br)
			if err != nil {
				return err
			}
			docs = append(docs, RawDoc{BlockIndex: idx, Bytes: b})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (h *SplitHandle) blockRange(idx int) (model.ByteRange, error) {
	if idx < 0 || idx >= len(h.Blocks) {
		return model.ByteRange{}, model.NewError(model.KindNotFound, "search.blockRange", fmt.Errorf("block index %d out of range (have %d)", idx, len(h.Blocks)))
	}
	return h.Blocks[idx], nil
}

func readThrough(ctx context.Context, st storage.Storage, cache *slicecache.Cache, path string, r model.ByteRange) ([]byte, error) {
	key := slicecache.Key{Path: path, Range: r}
	if cache != nil {
		if b, ok := cache.Get(key); ok {
			return b, nil
		}
	}
	b, err := st.GetSlice(ctx, path, r)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.Add(key, b)
	}
	return b, nil
}

func decodeHotcache(raw []byte) ([]model.ByteRange, error) {
	if len(raw)%hotcacheRecordSize != 0 {
		return nil, model.NewError(model.KindCorruption, "search.decodeHotcache", fmt.Errorf("hotcache length %d not a multiple of %d", len(raw), hotcacheRecordSize))
	}
	blocks := make([]model.ByteRange, 0, len(raw)/hotcacheRecordSize)
	for i := 0; i+hotcacheRecordSize <= len(raw); i += hotcacheRecordSize {
		offset := int64(binary.BigEndian.Uint64(raw[i : i+8]))
		size := int64(binary.BigEndian.Uint64(raw[i+8 : i+16]))
		blocks = append(blocks, model.ByteRange{Start: offset, End: offset + size})
	}
	return blocks, nil
}

func splitPath(indexID, splitID string) string {
	return fmt.Sprintf("%s/%s.split", indexID, splitID)
}

func limSearch(l *Limiter) *semaphore.Weighted {
	if l == nil {
		return nil
	}
	return l.Search
}

func limStream(l *Limiter) *semaphore.Weighted {
	if l == nil {
		return nil
	}
	return l.Stream
}
