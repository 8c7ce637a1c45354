package search

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/wessley-search/splitcore/internal/model"
	"github.com/wessley-search/splitcore/internal/storage"
	"github.com/wessley-search/splitcore/internal/storage/slicecache"
)

func buildTestSplit(t *testing.T, st storage.Storage, indexID, splitID string, blockPayloads [][]byte) model.SplitMetadata {
	t.Helper()
	var body []byte
	for _, b := range blockPayloads {
		body = append(body, b...)
	}
	footerStart := int64(len(body))

	var hotcache []byte
	var offset int64
	for _, b := range blockPayloads {
		var rec [16]byte
		binary.BigEndian.PutUint64(rec[0:8], uint64(offset))
		binary.BigEndian.PutUint64(rec[8:16], uint64(len(b)))
		hotcache = append(hotcache, rec[:]...)
		offset += int64(len(b))
	}
	body = append(body, hotcache...)

	path := splitPath(indexID, splitID)
	if err := st.Put(context.Background(), path, storage.Payload{Reader: bytes.NewReader(body), Size: int64(len(body))}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	return model.SplitMetadata{
		IndexID: indexID, SplitID: splitID, NumDocs: len(blockPayloads),
		FooterOffsets: model.ByteRange{Start: footerStart, End: footerStart + int64(len(hotcache))},
	}
}

func TestOpenIndexDecodesHotcacheBlocks(t *testing.T) {
	st := storage.NewRAMStorage()
	cache := slicecache.NewUnbounded()
	meta := buildTestSplit(t, st, "idx1", "split1", [][]byte{[]byte("hello"), []byte("world!!")})

	ctx := context.Background()
	handle, err := OpenIndex(ctx, st, cache, nil, meta)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	if len(handle.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(handle.Blocks))
	}
	if handle.Blocks[0] != (model.ByteRange{Start: 0, End: 5}) {
		t.Fatalf("unexpected block 0: %+v", handle.Blocks[0])
	}
	if handle.Blocks[1] != (model.ByteRange{Start: 5, End: 12}) {
		t.Fatalf("unexpected block 1: %+v", handle.Blocks[1])
	}
}

func TestFetchDocsReturnsBlockBytesAndCachesThem(t *testing.T) {
	st := storage.NewRAMStorage()
	cache := slicecache.NewUnbounded()
	meta := buildTestSplit(t, st, "idx1", "split1", [][]byte{[]byte("hello"), []byte("world!!")})

	ctx := context.Background()
	handle, err := OpenIndex(ctx, st, cache, nil, meta)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}

	docs, err := FetchDocs(ctx, st, cache, nil, handle, []int{1, 0})
	if err != nil {
		t.Fatalf("FetchDocs: %v", err)
	}
	if len(docs) != 2 || string(docs[0].Bytes) != "world!!" || string(docs[1].Bytes) != "hello" {
		t.Fatalf("unexpected docs: %+v", docs)
	}

	key := slicecache.Key{Path: handle.Path, Range: handle.Blocks[0]}
	if _, ok := cache.Get(key); !ok {
		t.Fatal("expected block 0 cached after FetchDocs")
	}
}

func TestFetchDocsRejectsOutOfRangeBlock(t *testing.T) {
	st := storage.NewRAMStorage()
	cache := slicecache.NewUnbounded()
	meta := buildTestSplit(t, st, "idx1", "split1", [][]byte{[]byte("hello")})

	ctx := context.Background()
	handle, err := OpenIndex(ctx, st, cache, nil, meta)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	if _, err := FetchDocs(ctx, st, cache, nil, handle, []int{5}); err == nil {
		t.Fatal("expected out-of-range block index to error")
	}
}

func TestWarmupPrefetchesIntoCache(t *testing.T) {
	st := storage.NewRAMStorage()
	cache := slicecache.NewUnbounded()
	meta := buildTestSplit(t, st, "idx1", "split1", [][]byte{[]byte("hello"), []byte("world!!")})

	ctx := context.Background()
	handle, err := OpenIndex(ctx, st, cache, nil, meta)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	if err := Warmup(ctx, st, cache, nil, handle, []int{0, 1}); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if cache.Len() != 3 { // footer + 2 blocks
		t.Fatalf("expected 3 cached entries, got %d", cache.Len())
	}
}
