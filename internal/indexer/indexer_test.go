package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/docmapper"
	"github.com/wessley-search/splitcore/internal/model"
	"github.com/wessley-search/splitcore/pkg/idgen"
	"github.com/wessley-search/splitcore/pkg/metrics"
)

func newTestIndexer(t *testing.T, settings model.IndexingSettings) (*Indexer, *actor.KillSwitch, *actor.Context) {
	t.Helper()
	schema := model.Schema{
		"user_id": model.FieldDescriptor{Name: "user_id", Required: true},
	}
	mapper := docmapper.New(schema, settings)
	reg := metrics.New()
	m := NewMetrics(reg, "idx1", "src1")
	in := actor.NewBoundedMailbox[model.RawDocBatch](8)
	out := actor.NewBoundedMailbox[model.IndexedSplitBatch](8)
	ix := New("idx1", "src1", settings, mapper, idgen.NewSource(), m, nil, in, out)

	kill := actor.NewKillSwitch(context.Background())
	actorCtx := actor.NewContext(ix.Name(), kill)
	return ix, kill, actorCtx
}

func TestIndexerCommitsOnDocCountThreshold(t *testing.T) {
	settings := model.IndexingSettings{SplitNumDocsTarget: 2, CommitTimeout: time.Hour, PartitionField: "user_id"}
	ix, kill, actorCtx := newTestIndexer(t, settings)

	done := make(chan actor.ExitStatus, 1)
	go func() { done <- ix.Run(actorCtx) }()

	ctx := context.Background()
	delta := checkpoint.IndexCheckpointDelta{
		SourceID:    "src1",
		SourceDelta: checkpoint.NewDelta("0", checkpoint.Beginning, checkpoint.Offset(2)),
	}
	if err := ix.In.Send(ctx, model.RawDocBatch{
		Docs:            []string{`{"user_id":"u1"}`, `{"user_id":"u1"}`},
		CheckpointDelta: delta,
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case batch := <-ix.Out.Chan():
		if len(batch.Splits) != 1 {
			t.Fatalf("expected 1 split, got %d", len(batch.Splits))
		}
		if batch.Splits[0].NumValidDocs != 2 {
			t.Fatalf("expected 2 valid docs, got %d", batch.Splits[0].NumValidDocs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a committed IndexedSplitBatch")
	}

	kill.Fire(nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to exit after kill switch fired")
	}
}

func TestIndexerFlushesOnFinalBatch(t *testing.T) {
	settings := model.IndexingSettings{SplitNumDocsTarget: 1000, CommitTimeout: time.Hour, PartitionField: "user_id"}
	ix, _, actorCtx := newTestIndexer(t, settings)

	done := make(chan actor.ExitStatus, 1)
	go func() { done <- ix.Run(actorCtx) }()

	ctx := context.Background()
	delta := checkpoint.IndexCheckpointDelta{
		SourceID:    "src1",
		SourceDelta: checkpoint.NewDelta("0", checkpoint.Beginning, checkpoint.Offset(1)),
	}
	if err := ix.In.Send(ctx, model.RawDocBatch{Docs: []string{`{"user_id":"u1"}`}, CheckpointDelta: delta}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := ix.In.Send(ctx, model.RawDocBatch{Final: true}); err != nil {
		t.Fatalf("send final: %v", err)
	}

	select {
	case batch := <-ix.Out.Chan():
		if len(batch.Splits) != 1 {
			t.Fatalf("expected 1 split on finalize flush, got %d", len(batch.Splits))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected finalize to flush the open workbench")
	}

	select {
	case status := <-done:
		if status != actor.ExitSuccess {
			t.Fatalf("expected ExitSuccess, got %v", status)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after Final batch")
	}
}

func TestIndexerAllInvalidBatchPublishesEmptySplits(t *testing.T) {
	settings := model.IndexingSettings{SplitNumDocsTarget: 1000, CommitTimeout: 30 * time.Millisecond, PartitionField: "user_id"}
	ix, kill, actorCtx := newTestIndexer(t, settings)
	defer kill.Fire(nil)

	done := make(chan actor.ExitStatus, 1)
	go func() { done <- ix.Run(actorCtx) }()

	ctx := context.Background()
	delta := checkpoint.IndexCheckpointDelta{
		SourceID:    "src1",
		SourceDelta: checkpoint.NewDelta("0", checkpoint.Beginning, checkpoint.Offset(1)),
	}
	// Missing the required user_id field -> MissingField, not Valid.
	if err := ix.In.Send(ctx, model.RawDocBatch{Docs: []string{`{"other":1}`}, CheckpointDelta: delta}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case batch := <-ix.Out.Chan():
		if len(batch.Splits) != 0 {
			t.Fatalf("expected empty split list for all-invalid batch, got %d", len(batch.Splits))
		}
		if batch.CheckpointDelta.SourceID != "src1" {
			t.Fatalf("expected checkpoint delta to still advance, got %+v", batch.CheckpointDelta)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected commit timeout to publish an empty split batch")
	}
}
