package checkpoint

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPositionOrdering(t *testing.T) {
	cases := []struct {
		a, b Position
		want int
	}{
		{Beginning, Beginning, 0},
		{Beginning, Offset(0), -1},
		{Offset(5), Offset(5), 0},
		{Offset(5), Offset(9), -1},
		{Offset(9), Offset(5), 1},
		{Offset(100), Offset(99), 1},
	}
	for _, c := range cases {
		if got := c.a.Compare(c.b); got != c.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestApplyRequiresMatchingFrom(t *testing.T) {
	ck := SourceCheckpoint{"p0": Offset(5)}
	_, err := Apply(ck, NewDelta("p0", Offset(7), Offset(9)))
	var incompat *IncompatibleDeltaError
	if !errors.As(err, &incompat) {
		t.Fatalf("expected IncompatibleDeltaError, got %v", err)
	}
}

func TestApplyAdvancesCheckpoint(t *testing.T) {
	ck := SourceCheckpoint{}
	delta := NewDelta("p0", Beginning, Offset(5))
	next, err := Apply(ck, delta)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !next["p0"].Equal(Offset(5)) {
		t.Fatalf("checkpoint = %v, want offset 5", next["p0"])
	}
	if !ck["p0"].Equal(Beginning) {
		t.Fatalf("original checkpoint mutated")
	}
}

// TestExtendAssociative exercises spec §8 invariant 5: applying d1 then d2
// equals applying the extension of d1 and d2, whenever adjacent to/from match.
func TestExtendAssociative(t *testing.T) {
	ck := SourceCheckpoint{}
	d1 := NewDelta("p0", Beginning, Offset(3))
	d2 := NewDelta("p0", Offset(3), Offset(8))

	viaSequential, err := Apply(ck, d1)
	if err != nil {
		t.Fatalf("apply d1: %v", err)
	}
	viaSequential, err = Apply(viaSequential, d2)
	if err != nil {
		t.Fatalf("apply d2: %v", err)
	}

	composed, err := d1.Extend(d2)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	viaComposed, err := Apply(ck, composed)
	if err != nil {
		t.Fatalf("apply composed: %v", err)
	}

	if !viaSequential["p0"].Equal(viaComposed["p0"]) {
		t.Fatalf("sequential=%v composed=%v, want equal", viaSequential["p0"], viaComposed["p0"])
	}
}

func TestExtendRejectsMismatch(t *testing.T) {
	d1 := NewDelta("p0", Beginning, Offset(3))
	d2 := NewDelta("p0", Offset(4), Offset(8)) // from=4, but d1.to=3
	_, err := d1.Extend(d2)
	var incompat *IncompatibleDeltaError
	if !errors.As(err, &incompat) {
		t.Fatalf("expected IncompatibleDeltaError, got %v", err)
	}
}

func TestExtendDisjointPartitionsPassThrough(t *testing.T) {
	d1 := NewDelta("p0", Beginning, Offset(3))
	d2 := NewDelta("p1", Beginning, Offset(7))
	composed, err := d1.Extend(d2)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if len(composed) != 2 {
		t.Fatalf("composed has %d partitions, want 2", len(composed))
	}
}

func TestWireRoundTrip(t *testing.T) {
	d := IndexCheckpointDelta{
		SourceID:    "src-1",
		SourceDelta: NewDelta("p0", Beginning, Offset(5)),
	}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got IndexCheckpointDelta
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.SourceID != d.SourceID {
		t.Fatalf("source id = %q, want %q", got.SourceID, d.SourceID)
	}
	if !got.SourceDelta["p0"].To.Equal(Offset(5)) {
		t.Fatalf("round-trip lost position: %v", got.SourceDelta["p0"])
	}

	// Round-trip idempotency: serialize(deserialize(x)) == serialize(x).
	data2, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}
	if string(data) != string(data2) {
		t.Fatalf("not idempotent: %s != %s", data, data2)
	}
}

func TestNumericOffset(t *testing.T) {
	if n, ok := Beginning.NumericOffset(); ok || n != 0 {
		t.Fatalf("Beginning.NumericOffset() = (%d, %v), want (0, false)", n, ok)
	}
	if n, ok := Offset(42).NumericOffset(); !ok || n != 42 {
		t.Fatalf("Offset(42).NumericOffset() = (%d, %v), want (42, true)", n, ok)
	}
}

func TestBeginningWireForm(t *testing.T) {
	p, err := OffsetString("-")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !p.IsBeginning() {
		t.Fatalf("expected Beginning")
	}
	if p.String() != "-" {
		t.Fatalf("String() = %q, want \"-\"", p.String())
	}
}
