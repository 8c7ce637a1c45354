package merge

import (
	"context"
	"testing"
	"time"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/model"
)

func TestEvaluateGroupsSmallSplitsIntoMerge(t *testing.T) {
	policy := Policy{MinMergeFactor: 3, TargetDocsPerSplit: 100}
	splits := []model.SplitMetadata{
		{SplitID: "a", NumDocs: 10},
		{SplitID: "b", NumDocs: 20},
		{SplitID: "c", NumDocs: 30},
	}
	ops := policy.Evaluate(splits)
	if len(ops) != 1 {
		t.Fatalf("expected 1 merge op, got %d", len(ops))
	}
	if ops[0].Kind != OpMerge || len(ops[0].ReplacedSplits) != 3 {
		t.Fatalf("unexpected op: %+v", ops[0])
	}
}

func TestEvaluateLeavesRemainderBelowFactor(t *testing.T) {
	policy := Policy{MinMergeFactor: 3, TargetDocsPerSplit: 100}
	splits := []model.SplitMetadata{
		{SplitID: "a", NumDocs: 10},
		{SplitID: "b", NumDocs: 20},
	}
	if ops := policy.Evaluate(splits); len(ops) != 0 {
		t.Fatalf("expected no ops below merge factor, got %+v", ops)
	}
}

func TestEvaluateEmitsDemuxForHighDemuxOps(t *testing.T) {
	policy := Policy{MinMergeFactor: 3, TargetDocsPerSplit: 100, MaxDemuxOps: 1}
	splits := []model.SplitMetadata{
		{SplitID: "a", NumDocs: 1000, DemuxNumOps: 5},
	}
	ops := policy.Evaluate(splits)
	if len(ops) != 1 || ops[0].Kind != OpDemux || ops[0].ReplacedSplits[0].SplitID != "a" {
		t.Fatalf("unexpected ops: %+v", ops)
	}
}

func TestApplyUpdateTracksStateAcrossCalls(t *testing.T) {
	p := New("idx1", Policy{MinMergeFactor: 2, TargetDocsPerSplit: 100}, nil, nil, nil)

	ops := p.ApplyUpdate(model.SplitUpdate{
		IndexID:   "idx1",
		NewSplits: []model.SplitMetadata{{SplitID: "a", NumDocs: 10}},
	})
	if len(ops) != 0 {
		t.Fatalf("expected no op with only one small split, got %+v", ops)
	}

	ops = p.ApplyUpdate(model.SplitUpdate{
		IndexID:   "idx1",
		NewSplits: []model.SplitMetadata{{SplitID: "b", NumDocs: 20}},
	})
	if len(ops) != 1 || len(ops[0].ReplacedSplits) != 2 {
		t.Fatalf("expected a merge op combining both splits, got %+v", ops)
	}

	if len(p.published) != 0 {
		t.Fatalf("expected replaced splits removed from tracked state, got %+v", p.published)
	}
}

func TestPlannerRunEmitsOperationsToOut(t *testing.T) {
	in := actor.NewBoundedMailbox[model.SplitUpdate](2)
	outCh := actor.NewBoundedMailbox[MergeOperation](2)
	out := actor.NewWeakMailbox("indexer-sub-pipeline", outCh, nil)

	p := New("idx1", Policy{MinMergeFactor: 1, TargetDocsPerSplit: 100}, nil, in, out)

	kill := actor.NewKillSwitch(context.Background())
	actorCtx := actor.NewContext(p.Name(), kill)
	done := make(chan actor.ExitStatus, 1)
	go func() { done <- p.Run(actorCtx) }()

	ctx := context.Background()
	update := model.SplitUpdate{IndexID: "idx1", NewSplits: []model.SplitMetadata{{SplitID: "a", NumDocs: 10}}}
	if err := in.Send(ctx, update); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case op := <-outCh.Chan():
		if op.Kind != OpMerge || len(op.ReplacedSplits) != 1 {
			t.Fatalf("unexpected op: %+v", op)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an emitted merge operation")
	}

	kill.Fire(nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to exit after kill switch")
	}
}
