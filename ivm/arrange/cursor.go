package arrange

import (
	"github.com/tessera-db/tessera/ivm"
)

// ValHistory is one value's (time, diff) history under a key, merged and
// consolidated across batches.
type ValHistory struct {
	Val   ivm.Row
	Times []ivm.Time
	Diffs []int64
}

// AccumulateAt returns the value's net multiplicity at time t.
func (h ValHistory) AccumulateAt(t ivm.Time) int64 {
	return ivm.AccumulateAt(h.Times, h.Diffs, t)
}

// Cursor iterates the consolidated contents of a set of batches in
// (key, val, time) order. It is lazy (a key's entries are gathered only
// when reached) and restartable via Seek. A cursor holds no locks: the
// batches it was created over are immutable, so a writer extending the
// trace never disturbs an in-progress scan.
//
// Cursors are not safe for concurrent use; each reader creates its own.
type Cursor struct {
	batches []*Batch
	pos     []int // next key index per batch

	key     ivm.Row
	entries []ivm.KeyedUpdate // current key's consolidated (val, time, diff)
	idx     int
}

func newCursor(batches []*Batch) *Cursor {
	return &Cursor{
		batches: batches,
		pos:     make([]int, len(batches)),
		idx:     -1,
	}
}

// Seek repositions the cursor so the next call to Next lands on the first
// entry whose key is >= key.
func (c *Cursor) Seek(key ivm.Row) {
	for i, b := range c.batches {
		c.pos[i] = b.seekKey(key)
	}
	c.key = nil
	c.entries = nil
	c.idx = -1
}

// Next advances to the next (key, val, time, diff) entry.
func (c *Cursor) Next() bool {
	if c.idx+1 < len(c.entries) {
		c.idx++
		return true
	}
	for {
		if !c.gather() {
			return false
		}
		if len(c.entries) > 0 {
			c.idx = 0
			return true
		}
		// every entry under that key cancelled; move on
	}
}

// Key returns the current entry's key.
func (c *Cursor) Key() ivm.Row { return c.key }

// Val returns the current entry's value.
func (c *Cursor) Val() ivm.Row { return c.entries[c.idx].Val }

// Time returns the current entry's time.
func (c *Cursor) Time() ivm.Time { return c.entries[c.idx].Time }

// Diff returns the current entry's multiplicity delta.
func (c *Cursor) Diff() int64 { return c.entries[c.idx].Diff }

// Close releases the cursor. Present for symmetry with other iterators in
// the module; cursors hold no resources.
func (c *Cursor) Close() error { return nil }

// gather advances to the smallest key any batch still holds and collects
// that key's entries from every batch carrying it.
func (c *Cursor) gather() bool {
	var minKey ivm.Row
	found := false
	for i, b := range c.batches {
		if c.pos[i] >= b.Keys() {
			continue
		}
		k := b.key(c.pos[i])
		if !found || k.Compare(minKey) < 0 {
			minKey = k
			found = true
		}
	}
	if !found {
		return false
	}

	var entries []ivm.KeyedUpdate
	for i, b := range c.batches {
		if c.pos[i] >= b.Keys() || !b.key(c.pos[i]).Equal(minKey) {
			continue
		}
		entries = collectKey(b, c.pos[i], entries)
		c.pos[i]++
	}

	c.key = minKey
	c.entries = ivm.ConsolidateKeyed(entries)
	c.idx = -1
	return true
}

// collectKey appends every (val, time, diff) under key index i of b. The
// Key field is left nil so consolidation orders purely by (val, time).
func collectKey(b *Batch, i int, out []ivm.KeyedUpdate) []ivm.KeyedUpdate {
	lo, hi := b.valRange(i)
	for j := lo; j < hi; j++ {
		s, e := b.updRange(j)
		for u := s; u < e; u++ {
			out = append(out, ivm.KeyedUpdate{
				Val:  b.val(j),
				Time: b.times[u],
				Diff: b.diffs[u],
			})
		}
	}
	return out
}

// lookupKey gathers and consolidates a single key's histories across
// batches, grouped per value.
func lookupKey(batches []*Batch, key ivm.Row) []ValHistory {
	var entries []ivm.KeyedUpdate
	for _, b := range batches {
		i := b.seekKey(key)
		if i < b.Keys() && b.key(i).Equal(key) {
			entries = collectKey(b, i, entries)
		}
	}
	entries = ivm.ConsolidateKeyed(entries)

	var out []ValHistory
	for _, e := range entries {
		if n := len(out); n > 0 && out[n-1].Val.Equal(e.Val) {
			out[n-1].Times = append(out[n-1].Times, e.Time)
			out[n-1].Diffs = append(out[n-1].Diffs, e.Diff)
			continue
		}
		out = append(out, ValHistory{
			Val:   e.Val,
			Times: []ivm.Time{e.Time},
			Diffs: []int64{e.Diff},
		})
	}
	return out
}
