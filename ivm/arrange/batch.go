package arrange

import (
	"fmt"

	"github.com/tessera-db/tessera/ivm"
)

// Batch is an immutable, sorted run of keyed updates covering the half-open
// time window [Lower, Upper). Updates are laid out columnar: key and value
// bytes live in shared append-only buffers addressed by integer offsets, so
// a committed batch carries no per-update allocation.
//
// Layout, all sorted by (key, val, time):
//
//	keyData[keyEnds[i-1]:keyEnds[i]]      bytes of key i
//	valEnds[i]                            end (exclusive) of key i's vals
//	valData[valDataEnds[j-1]:valDataEnds[j]]  bytes of val j
//	updEnds[j]                            end (exclusive) of val j's updates
//	times[...], diffs[...]                the update tuples themselves
//
// A non-advancing updEnds entry means val j's updates are identical to an
// earlier val's and replays that range instead of repeating it (snapshot
// run compression). Batches are write-once: they are only ever constructed
// through a Builder and never modified afterwards.
type Batch struct {
	lower, upper ivm.Time

	keyData     []byte
	keyEnds     offsets
	valEnds     offsets
	valData     []byte
	valDataEnds offsets
	updEnds     offsets
	times       []ivm.Time
	diffs       []int64

	tuples int
}

// Lower returns the inclusive start of the batch's validity window.
func (b *Batch) Lower() ivm.Time { return b.lower }

// Upper returns the exclusive end of the batch's validity window.
func (b *Batch) Upper() ivm.Time { return b.upper }

// Len returns the logical number of (key, val, time, diff) tuples.
func (b *Batch) Len() int { return b.tuples }

// Keys returns the number of distinct keys.
func (b *Batch) Keys() int { return b.keyEnds.Len() }

// Empty reports whether the batch holds no updates. Empty batches still
// advance the frontier by their window.
func (b *Batch) Empty() bool { return b.Keys() == 0 }

// key returns the bytes of key i.
func (b *Batch) key(i int) ivm.Row {
	var start uint64
	if i > 0 {
		start = b.keyEnds.Index(i - 1)
	}
	return ivm.Row(b.keyData[start:b.keyEnds.Index(i)])
}

// seekKey returns the index of the first key >= k, or Keys() if none.
func (b *Batch) seekKey(k ivm.Row) int {
	lo, hi := 0, b.Keys()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if b.key(mid).Compare(k) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// valRange returns the half-open range of val indexes belonging to key i.
func (b *Batch) valRange(i int) (int, int) {
	var start uint64
	if i > 0 {
		start = b.valEnds.Index(i - 1)
	}
	return int(start), int(b.valEnds.Index(i))
}

// val returns the bytes of val j.
func (b *Batch) val(j int) ivm.Row {
	var start uint64
	if j > 0 {
		start = b.valDataEnds.Index(j - 1)
	}
	return ivm.Row(b.valData[start:b.valDataEnds.Index(j)])
}

// updRange returns the half-open range into times/diffs for val j,
// resolving snapshot-run reuse: a non-advancing end replays the range of
// the earliest val that actually appended updates ending there.
func (b *Batch) updRange(j int) (int, int) {
	end := b.updEnds.Index(j)
	var prev uint64
	if j > 0 {
		prev = b.updEnds.Index(j - 1)
	}
	if end > prev {
		return int(prev), int(end)
	}
	first := b.updEnds.search(end)
	var start uint64
	if first > 0 {
		start = b.updEnds.Index(first - 1)
	}
	return int(start), int(end)
}

// Collect materializes every update in the batch, in (key, val, time)
// order. Intended for tests and small batches; scans should use a Cursor.
func (b *Batch) Collect() []ivm.KeyedUpdate {
	out := make([]ivm.KeyedUpdate, 0, b.tuples)
	for i := 0; i < b.Keys(); i++ {
		lo, hi := b.valRange(i)
		for j := lo; j < hi; j++ {
			s, e := b.updRange(j)
			for u := s; u < e; u++ {
				out = append(out, ivm.KeyedUpdate{
					Key:  b.key(i),
					Val:  b.val(j),
					Time: b.times[u],
					Diff: b.diffs[u],
				})
			}
		}
	}
	return out
}

// KeyRows returns the distinct keys the batch touches, in order. Anti-join
// maintenance uses this to know which keys an instant may have flipped.
func (b *Batch) KeyRows() []ivm.Row {
	out := make([]ivm.Row, 0, b.Keys())
	for i := 0; i < b.Keys(); i++ {
		out = append(out, b.key(i))
	}
	return out
}

// String returns a compact description for logging.
func (b *Batch) String() string {
	return fmt.Sprintf("batch[%d,%d) keys=%d tuples=%d", b.lower, b.upper, b.Keys(), b.tuples)
}
