package arrange

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tessera-db/tessera/ivm"
)

func bySuffixSplit(data ivm.Row) (ivm.Row, ivm.Row, error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("row too short")
	}
	return data[:1], data[1:], nil
}

func TestArrangementInsertSplitsRows(t *testing.T) {
	a := New("test", bySuffixSplit)
	_, err := a.Insert(1, []ivm.Update{
		{Data: ivm.Row("ax"), Time: 0, Diff: 1},
		{Data: ivm.Row("ay"), Time: 0, Diff: 1},
		{Data: ivm.Row("bz"), Time: 0, Diff: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	r := a.Reader()
	if got := r.CountAt(ivm.Row("a"), 0); got != 2 {
		t.Fatalf("CountAt(a) = %d, want 2", got)
	}
	vals := r.ReadAt(ivm.Row("a"), 0)
	if len(vals) != 2 || !vals[0].Val.Equal(ivm.Row("x")) || !vals[1].Val.Equal(ivm.Row("y")) {
		t.Fatalf("ReadAt(a) = %v", vals)
	}
}

func TestArrangementInsertFailsWholeBatchOnSplitError(t *testing.T) {
	a := New("test", bySuffixSplit)
	_, err := a.Insert(1, []ivm.Update{
		{Data: ivm.Row("ax"), Time: 0, Diff: 1},
		{Data: ivm.Row(""), Time: 0, Diff: 1},
	})
	if !errors.Is(err, ivm.ErrSplit) {
		t.Fatalf("error = %v, want ErrSplit", err)
	}
	if a.Frontier() != 0 {
		t.Fatal("failed insert must leave the arrangement untouched")
	}
}

func TestArrangementInsertWindowChecks(t *testing.T) {
	a := New("test", nil)
	if _, err := a.Insert(2, []ivm.Update{{Data: ivm.Row("r"), Time: 1, Diff: 1}}); err != nil {
		t.Fatal(err)
	}

	_, err := a.Insert(1, nil)
	if !errors.Is(err, ivm.ErrOutOfWindow) {
		t.Fatalf("upper behind frontier: error = %v, want ErrOutOfWindow", err)
	}

	_, err = a.Insert(4, []ivm.Update{{Data: ivm.Row("r"), Time: 1, Diff: 1}})
	if !errors.Is(err, ivm.ErrOutOfWindow) {
		t.Fatalf("update below window: error = %v, want ErrOutOfWindow", err)
	}

	_, err = a.Insert(4, []ivm.Update{{Data: ivm.Row("r"), Time: 4, Diff: 1}})
	if !errors.Is(err, ivm.ErrOutOfWindow) {
		t.Fatalf("update at upper: error = %v, want ErrOutOfWindow", err)
	}
}

func TestArrangementRejectsUpdateBelowSince(t *testing.T) {
	a := New("test", nil)
	if _, err := a.Insert(3, nil); err != nil {
		t.Fatal(err)
	}
	if err := a.AdvanceSince(3); err != nil {
		t.Fatal(err)
	}
	// Frontier and since both sit at 3; a batch [3,5) carrying time 3 is
	// fine, anything earlier cannot exist anymore.
	if _, err := a.Insert(5, []ivm.Update{{Data: ivm.Row("r"), Time: 3, Diff: 1}}); err != nil {
		t.Fatal(err)
	}
}

func TestReaderSnapshotAt(t *testing.T) {
	a := New("test", bySuffixSplit)
	if _, err := a.Insert(1, []ivm.Update{
		{Data: ivm.Row("ax"), Time: 0, Diff: 1},
		{Data: ivm.Row("by"), Time: 0, Diff: 1},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Insert(2, []ivm.Update{
		{Data: ivm.Row("ax"), Time: 1, Diff: -1},
		{Data: ivm.Row("cz"), Time: 1, Diff: 3},
	}); err != nil {
		t.Fatal(err)
	}

	r := a.Reader()
	checkUpdates(t, r.SnapshotAt(0), []ivm.KeyedUpdate{
		ku("a", "x", 0, 1),
		ku("b", "y", 0, 1),
	})
	checkUpdates(t, r.SnapshotAt(1), []ivm.KeyedUpdate{
		ku("b", "y", 1, 1),
		ku("c", "z", 1, 3),
	})
}

func TestReaderSnapshotStableUnderConcurrentInsert(t *testing.T) {
	a := New("test", nil)
	if _, err := a.Insert(1, []ivm.Update{{Data: ivm.Row("r1"), Time: 0, Diff: 1}}); err != nil {
		t.Fatal(err)
	}

	c := a.Reader().Cursor()

	// The writer moves on; the cursor's snapshot must not see it.
	if _, err := a.Insert(2, []ivm.Update{{Data: ivm.Row("r2"), Time: 1, Diff: 1}}); err != nil {
		t.Fatal(err)
	}

	got := collectCursor(c)
	if len(got) != 1 || !got[0].Key.Equal(ivm.Row("r1")) {
		t.Fatalf("snapshot leaked later inserts: %v", got)
	}
}
