package packager

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/model"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "block-*.zst")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}

func TestPackageBatchBuildsHotcacheAndCarriesDelta(t *testing.T) {
	f1 := writeTempFile(t, "hello")
	f2 := writeTempFile(t, "world!!")

	in := actor.NewBoundedMailbox[model.IndexedSplitBatch](1)
	out := actor.NewBoundedMailbox[model.PackagedSplitBatch](1)
	p := New("idx1", nil, in, out)

	kill := actor.NewKillSwitch(context.Background())
	actorCtx := actor.NewContext(p.Name(), kill)
	done := make(chan actor.ExitStatus, 1)
	go func() { done <- p.Run(actorCtx) }()

	delta := checkpoint.IndexCheckpointDelta{
		SourceID:    "src1",
		SourceDelta: checkpoint.NewDelta("0", checkpoint.Beginning, checkpoint.Offset(5)),
	}
	split := &model.IndexedSplit{SplitID: "split1", PartitionKey: 42, NumValidDocs: 2, SegmentFiles: []string{f1, f2}}
	batch := model.IndexedSplitBatch{IndexID: "idx1", Splits: []*model.IndexedSplit{split}, CheckpointDelta: delta}

	ctx := context.Background()
	if err := in.Send(ctx, batch); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case result := <-out.Chan():
		if len(result.Splits) != 1 {
			t.Fatalf("expected 1 packaged split, got %d", len(result.Splits))
		}
		ps := result.Splits[0]
		if len(ps.HotcacheBytes) != 32 { // two 16-byte (offset,size) records
			t.Fatalf("expected 32-byte hotcache, got %d", len(ps.HotcacheBytes))
		}
		if ps.Metadata.UncompressedDocsSizeInBytes != int64(len("hello")+len("world!!")) {
			t.Fatalf("unexpected total size: %d", ps.Metadata.UncompressedDocsSizeInBytes)
		}
		if ps.Metadata.State != model.SplitStaged {
			t.Fatalf("expected SplitStaged, got %v", ps.Metadata.State)
		}
		if result.CheckpointDelta.SourceID != "src1" {
			t.Fatal("expected checkpoint delta to carry through unchanged")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a packaged batch")
	}

	kill.Fire(nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to exit after kill switch")
	}
}
