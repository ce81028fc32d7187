package arrange

import (
	"fmt"

	"github.com/tessera-db/tessera/ivm"
)

// Builder assembles a Batch from updates pushed in (key, val, time) order.
// Pushing out of order is a programmer error and panics; callers with
// unsorted input use BatchFromUpdates, which consolidates first.
type Builder struct {
	batch *Batch

	curKey, curVal ivm.Row
	haveVal        bool
	updStart       int // index in times where the current val's updates begin
	valsEmitted    int
	valsAtKeyStart int

	// resolved update range of the previously emitted val, for
	// snapshot-run reuse detection
	prevStart, prevEnd int
}

// NewBuilder starts a batch covering [lower, upper).
func NewBuilder(lower, upper ivm.Time) *Builder {
	if upper < lower {
		panic(fmt.Sprintf("arrange: inverted batch window [%d,%d)", lower, upper))
	}
	return &Builder{batch: &Batch{lower: lower, upper: upper}}
}

// Push adds one update. Keys and vals must arrive in non-decreasing order;
// updates for the same (key, val) must arrive in non-decreasing time order.
// Equal (key, val, time) entries are merged by summing diffs.
func (bl *Builder) Push(key, val ivm.Row, t ivm.Time, diff int64) {
	if diff == 0 {
		return
	}
	b := bl.batch

	if !bl.haveVal {
		bl.startKey(key)
		bl.startVal(val)
	} else {
		switch c := bl.curKey.Compare(key); {
		case c > 0:
			panic("arrange: builder push with out-of-order key")
		case c < 0:
			bl.finishVal()
			bl.finishKey()
			bl.startKey(key)
			bl.startVal(val)
		default:
			switch c := bl.curVal.Compare(val); {
			case c > 0:
				panic("arrange: builder push with out-of-order val")
			case c < 0:
				bl.finishVal()
				bl.startVal(val)
			}
		}
	}

	if n := len(b.times); n > bl.updStart {
		last := b.times[n-1]
		if last > t {
			panic("arrange: builder push with out-of-order time")
		}
		if last == t {
			b.diffs[n-1] += diff
			if b.diffs[n-1] == 0 {
				b.times = b.times[:n-1]
				b.diffs = b.diffs[:n-1]
			}
			return
		}
	}
	b.times = append(b.times, t)
	b.diffs = append(b.diffs, diff)
}

func (bl *Builder) startKey(key ivm.Row) {
	bl.curKey = key.Clone()
	bl.valsAtKeyStart = bl.valsEmitted
}

func (bl *Builder) startVal(val ivm.Row) {
	bl.curVal = val.Clone()
	bl.haveVal = true
	bl.updStart = len(bl.batch.times)
}

// finishVal seals the current val. A val whose consolidated updates
// cancelled to nothing is dropped entirely; a val whose updates equal the
// previous val's is recorded as a non-advancing offset and its tail is
// truncated away.
func (bl *Builder) finishVal() {
	b := bl.batch
	n := len(b.times) - bl.updStart
	if n == 0 {
		return
	}

	b.valData = append(b.valData, bl.curVal...)
	b.valDataEnds.Push(uint64(len(b.valData)))
	b.tuples += n

	if bl.sameAsPrev() {
		b.times = b.times[:bl.updStart]
		b.diffs = b.diffs[:bl.updStart]
		b.updEnds.Push(uint64(bl.updStart))
	} else {
		b.updEnds.Push(uint64(len(b.times)))
		bl.prevStart, bl.prevEnd = bl.updStart, len(b.times)
	}
	bl.valsEmitted++
}

// sameAsPrev reports whether the pending val's updates exactly repeat the
// previous emitted val's resolved range.
func (bl *Builder) sameAsPrev() bool {
	b := bl.batch
	if bl.valsEmitted == 0 || bl.prevEnd-bl.prevStart != len(b.times)-bl.updStart {
		return false
	}
	for i := 0; i < bl.prevEnd-bl.prevStart; i++ {
		if b.times[bl.prevStart+i] != b.times[bl.updStart+i] ||
			b.diffs[bl.prevStart+i] != b.diffs[bl.updStart+i] {
			return false
		}
	}
	return true
}

func (bl *Builder) finishKey() {
	b := bl.batch
	if bl.valsEmitted == bl.valsAtKeyStart {
		// every val under this key cancelled out
		return
	}
	b.keyData = append(b.keyData, bl.curKey...)
	b.keyEnds.Push(uint64(len(b.keyData)))
	b.valEnds.Push(uint64(bl.valsEmitted))
}

// Done seals and returns the batch. The builder must not be reused.
func (bl *Builder) Done() *Batch {
	if bl.haveVal {
		bl.finishVal()
		bl.finishKey()
		bl.haveVal = false
	}
	return bl.batch
}

// BatchFromUpdates consolidates updates and builds a batch covering
// [lower, upper). The input slice is reordered in place.
func BatchFromUpdates(lower, upper ivm.Time, updates []ivm.KeyedUpdate) *Batch {
	bl := NewBuilder(lower, upper)
	for _, u := range ivm.ConsolidateKeyed(updates) {
		bl.Push(u.Key, u.Val, u.Time, u.Diff)
	}
	return bl.Done()
}
