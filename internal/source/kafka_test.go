package source

import (
	"context"
	"testing"

	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/metastore/filestore"
	"github.com/wessley-search/splitcore/internal/model"
)

func TestNewKafkaSourceDefaultsBatchSize(t *testing.T) {
	ks := NewKafkaSource("k1", "idx1", "topic1", []string{"broker1:9092"}, "group1", false, 0, nil)
	if ks.BatchSize != 1000 {
		t.Fatalf("BatchSize = %d, want 1000 default", ks.BatchSize)
	}
}

func TestKafkaSourceInvalidateClearsAssigned(t *testing.T) {
	ks := NewKafkaSource("k1", "idx1", "topic1", nil, "group1", false, 10, nil)
	ks.assigned = true
	ks.Invalidate()
	if ks.assigned {
		t.Fatal("expected assigned=false after Invalidate")
	}
}

// TestKafkaSourceCheckpointForReadsMetastore covers the part of the
// rebalance handshake that doesn't require a live broker: resolving the
// per-partition resume position out of the metastore's current checkpoint
// (spec.md §4.2).
func TestKafkaSourceCheckpointForReadsMetastore(t *testing.T) {
	ms := filestore.New(t.TempDir(), nil)
	ctx := context.Background()

	meta := model.NewIndexMetadata("idx1", "ram:///idx1", model.Schema{}, model.DefaultIndexingSettings, model.SearchSettings{})
	meta.Checkpoint = map[string]checkpoint.SourceCheckpoint{
		"k1": {"0": checkpoint.Offset(41)},
	}
	if err := ms.CreateIndex(ctx, meta); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	ks := NewKafkaSource("k1", "idx1", "topic1", nil, "group1", false, 10, ms)
	ck, err := ks.checkpointFor(ctx)
	if err != nil {
		t.Fatalf("checkpointFor: %v", err)
	}
	pos, ok := ck["0"]
	if !ok {
		t.Fatalf("expected a checkpoint for partition 0, got %v", ck)
	}
	n, ok := pos.NumericOffset()
	if !ok || n != 41 {
		t.Fatalf("NumericOffset() = (%d, %v), want (41, true)", n, ok)
	}
}

func TestKafkaSourceCheckpointForUnknownIndex(t *testing.T) {
	ms := filestore.New(t.TempDir(), nil)
	ks := NewKafkaSource("k1", "missing-index", "topic1", nil, "group1", false, 10, ms)
	if _, err := ks.checkpointFor(context.Background()); err == nil {
		t.Fatal("expected an error loading checkpoint for an unknown index")
	}
}
