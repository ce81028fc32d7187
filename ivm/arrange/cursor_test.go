package arrange

import (
	"testing"

	"github.com/tessera-db/tessera/ivm"
)

func collectCursor(c *Cursor) []ivm.KeyedUpdate {
	var out []ivm.KeyedUpdate
	for c.Next() {
		out = append(out, ivm.KeyedUpdate{
			Key: c.Key(), Val: c.Val(), Time: c.Time(), Diff: c.Diff(),
		})
	}
	return out
}

func TestCursorMergesAcrossBatches(t *testing.T) {
	b1 := BatchFromUpdates(0, 1, []ivm.KeyedUpdate{
		ku("k1", "a", 0, 1),
		ku("k3", "c", 0, 1),
	})
	b2 := BatchFromUpdates(1, 2, []ivm.KeyedUpdate{
		ku("k1", "a", 1, 1),
		ku("k2", "b", 1, 1),
	})

	got := collectCursor(newCursor([]*Batch{b1, b2}))
	checkUpdates(t, got, []ivm.KeyedUpdate{
		ku("k1", "a", 0, 1),
		ku("k1", "a", 1, 1),
		ku("k2", "b", 1, 1),
		ku("k3", "c", 0, 1),
	})
}

func TestCursorSkipsFullyCancelledKeys(t *testing.T) {
	b1 := BatchFromUpdates(0, 1, []ivm.KeyedUpdate{
		ku("k1", "a", 0, 1),
		ku("k2", "b", 0, 1),
	})
	b2 := BatchFromUpdates(1, 2, []ivm.KeyedUpdate{
		ku("k1", "a", 0, -1), // same time in a later batch cancels exactly
	})

	got := collectCursor(newCursor([]*Batch{b1, b2}))
	checkUpdates(t, got, []ivm.KeyedUpdate{ku("k2", "b", 0, 1)})
}

func TestCursorSeek(t *testing.T) {
	b := BatchFromUpdates(0, 1, []ivm.KeyedUpdate{
		ku("k1", "a", 0, 1),
		ku("k2", "b", 0, 1),
		ku("k3", "c", 0, 1),
	})
	c := newCursor([]*Batch{b})
	c.Seek(ivm.Row("k2"))
	got := collectCursor(c)
	checkUpdates(t, got, []ivm.KeyedUpdate{
		ku("k2", "b", 0, 1),
		ku("k3", "c", 0, 1),
	})

	// Seek rewinds as well as skips.
	c.Seek(ivm.Row("k1"))
	if got := collectCursor(c); len(got) != 3 {
		t.Fatalf("after rewinding seek got %d entries, want 3", len(got))
	}
}

func TestCursorEmpty(t *testing.T) {
	c := newCursor(nil)
	if c.Next() {
		t.Fatal("cursor over no batches should be exhausted")
	}
	c = newCursor([]*Batch{BatchFromUpdates(0, 1, nil)})
	if c.Next() {
		t.Fatal("cursor over empty batch should be exhausted")
	}
}

func TestLookupKeyGroupsByVal(t *testing.T) {
	b1 := BatchFromUpdates(0, 1, []ivm.KeyedUpdate{
		ku("k", "a", 0, 1),
		ku("k", "b", 0, 2),
	})
	b2 := BatchFromUpdates(1, 2, []ivm.KeyedUpdate{
		ku("k", "a", 1, -1),
	})

	hs := lookupKey([]*Batch{b1, b2}, ivm.Row("k"))
	if len(hs) != 2 {
		t.Fatalf("got %d histories, want 2: %v", len(hs), hs)
	}
	if !hs[0].Val.Equal(ivm.Row("a")) || len(hs[0].Times) != 2 {
		t.Fatalf("history a = %v", hs[0])
	}
	if hs[0].AccumulateAt(0) != 1 || hs[0].AccumulateAt(1) != 0 {
		t.Fatalf("history a accumulates wrong: %v", hs[0])
	}
	if !hs[1].Val.Equal(ivm.Row("b")) || hs[1].AccumulateAt(5) != 2 {
		t.Fatalf("history b = %v", hs[1])
	}

	if got := lookupKey([]*Batch{b1, b2}, ivm.Row("missing")); len(got) != 0 {
		t.Fatalf("missing key returned %v", got)
	}
}
