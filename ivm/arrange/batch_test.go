package arrange

import (
	"testing"

	"github.com/tessera-db/tessera/ivm"
)

func ku(key, val string, t ivm.Time, d int64) ivm.KeyedUpdate {
	return ivm.KeyedUpdate{Key: ivm.Row(key), Val: ivm.Row(val), Time: t, Diff: d}
}

func checkUpdates(t *testing.T, got, want []ivm.KeyedUpdate) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d updates, want %d:\n got: %v\nwant: %v", len(got), len(want), got, want)
	}
	for i := range want {
		if !got[i].Key.Equal(want[i].Key) || !got[i].Val.Equal(want[i].Val) ||
			got[i].Time != want[i].Time || got[i].Diff != want[i].Diff {
			t.Errorf("update %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBatchFromUpdatesRoundTrip(t *testing.T) {
	in := []ivm.KeyedUpdate{
		ku("k2", "x", 1, 1),
		ku("k1", "b", 2, -1),
		ku("k1", "a", 1, 1),
		ku("k1", "a", 1, 2),
	}
	b := BatchFromUpdates(0, 3, in)

	if b.Lower() != 0 || b.Upper() != 3 {
		t.Fatalf("window [%d,%d), want [0,3)", b.Lower(), b.Upper())
	}
	if b.Keys() != 2 {
		t.Fatalf("Keys() = %d, want 2", b.Keys())
	}
	checkUpdates(t, b.Collect(), []ivm.KeyedUpdate{
		ku("k1", "a", 1, 3),
		ku("k1", "b", 2, -1),
		ku("k2", "x", 1, 1),
	})
}

func TestBatchEmpty(t *testing.T) {
	b := BatchFromUpdates(2, 5, nil)
	if !b.Empty() {
		t.Fatal("batch without updates should be empty")
	}
	if b.Lower() != 2 || b.Upper() != 5 {
		t.Fatalf("empty batch window [%d,%d), want [2,5)", b.Lower(), b.Upper())
	}
	if got := b.Collect(); len(got) != 0 {
		t.Fatalf("Collect on empty batch = %v", got)
	}
}

func TestBuilderDropsCancelledVals(t *testing.T) {
	bl := NewBuilder(0, 2)
	bl.Push(ivm.Row("k"), ivm.Row("a"), 1, 1)
	bl.Push(ivm.Row("k"), ivm.Row("a"), 1, -1)
	bl.Push(ivm.Row("k"), ivm.Row("b"), 1, 1)
	b := bl.Done()

	checkUpdates(t, b.Collect(), []ivm.KeyedUpdate{ku("k", "b", 1, 1)})
}

func TestBuilderDropsKeysWithNoSurvivingVals(t *testing.T) {
	bl := NewBuilder(0, 2)
	bl.Push(ivm.Row("k1"), ivm.Row("a"), 1, 1)
	bl.Push(ivm.Row("k1"), ivm.Row("a"), 1, -1)
	bl.Push(ivm.Row("k2"), ivm.Row("a"), 1, 1)
	b := bl.Done()

	if b.Keys() != 1 {
		t.Fatalf("Keys() = %d, want 1", b.Keys())
	}
	checkUpdates(t, b.Collect(), []ivm.KeyedUpdate{ku("k2", "a", 1, 1)})
}

// A snapshot-shaped batch, where every value carries the identical
// (time, diff) history, must not repeat that history per value: the
// updEnds offsets stop advancing and random access replays the shared run.
func TestBatchSnapshotRunReuse(t *testing.T) {
	bl := NewBuilder(0, 1)
	keys := []string{"k1", "k2", "k3", "k4"}
	for _, k := range keys {
		bl.Push(ivm.Row(k), ivm.Row("v-"+k), 0, 1)
	}
	b := bl.Done()

	if got := len(b.times); got != 1 {
		t.Fatalf("stored %d update tuples, want 1 shared run", got)
	}
	if b.Len() != 4 {
		t.Fatalf("Len() = %d, want 4 logical tuples", b.Len())
	}

	var want []ivm.KeyedUpdate
	for _, k := range keys {
		want = append(want, ku(k, "v-"+k, 0, 1))
	}
	checkUpdates(t, b.Collect(), want)
}

func TestBatchSnapshotRunReuseAfterDivergence(t *testing.T) {
	bl := NewBuilder(0, 3)
	bl.Push(ivm.Row("k1"), ivm.Row("a"), 0, 1)
	bl.Push(ivm.Row("k2"), ivm.Row("b"), 0, 1)
	// diverging history breaks the run
	bl.Push(ivm.Row("k3"), ivm.Row("c"), 1, 2)
	// and a fresh run starts behind it
	bl.Push(ivm.Row("k4"), ivm.Row("d"), 1, 2)
	b := bl.Done()

	if got := len(b.times); got != 2 {
		t.Fatalf("stored %d update tuples, want 2", got)
	}
	checkUpdates(t, b.Collect(), []ivm.KeyedUpdate{
		ku("k1", "a", 0, 1),
		ku("k2", "b", 0, 1),
		ku("k3", "c", 1, 2),
		ku("k4", "d", 1, 2),
	})
}

func TestBuilderMergesEqualTimes(t *testing.T) {
	bl := NewBuilder(0, 5)
	bl.Push(ivm.Row("k"), ivm.Row("v"), 1, 1)
	bl.Push(ivm.Row("k"), ivm.Row("v"), 1, 1)
	bl.Push(ivm.Row("k"), ivm.Row("v"), 3, -1)
	b := bl.Done()

	checkUpdates(t, b.Collect(), []ivm.KeyedUpdate{
		ku("k", "v", 1, 2),
		ku("k", "v", 3, -1),
	})
}

func TestBuilderPanicsOnOutOfOrderKey(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-order key")
		}
	}()
	bl := NewBuilder(0, 2)
	bl.Push(ivm.Row("k2"), ivm.Row("v"), 1, 1)
	bl.Push(ivm.Row("k1"), ivm.Row("v"), 1, 1)
}

func TestBuilderPanicsOnOutOfOrderTime(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-order time")
		}
	}()
	bl := NewBuilder(0, 5)
	bl.Push(ivm.Row("k"), ivm.Row("v"), 3, 1)
	bl.Push(ivm.Row("k"), ivm.Row("v"), 1, 1)
}

func TestBuilderPanicsOnInvertedWindow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on inverted window")
		}
	}()
	NewBuilder(5, 2)
}

func TestBatchSeekKey(t *testing.T) {
	b := BatchFromUpdates(0, 1, []ivm.KeyedUpdate{
		ku("b", "v", 0, 1),
		ku("d", "v", 0, 1),
		ku("f", "v", 0, 1),
	})
	cases := []struct {
		key  string
		want int
	}{
		{"a", 0},
		{"b", 0},
		{"c", 1},
		{"d", 1},
		{"e", 2},
		{"f", 2},
		{"g", 3},
	}
	for _, c := range cases {
		if got := b.seekKey(ivm.Row(c.key)); got != c.want {
			t.Errorf("seekKey(%q) = %d, want %d", c.key, got, c.want)
		}
	}
}

func TestBatchKeyRows(t *testing.T) {
	b := BatchFromUpdates(0, 1, []ivm.KeyedUpdate{
		ku("k2", "v", 0, 1),
		ku("k1", "v", 0, 1),
		ku("k1", "w", 0, 1),
	})
	rows := b.KeyRows()
	if len(rows) != 2 || !rows[0].Equal(ivm.Row("k1")) || !rows[1].Equal(ivm.Row("k2")) {
		t.Fatalf("KeyRows() = %v", rows)
	}
}
