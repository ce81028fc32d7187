// Package arrange implements the versioned, indexed state store the join
// operators read: immutable sorted batches of (key, val, time, diff)
// updates, collected into traces with LSM-style background merging and
// logical compaction below a floor time.
//
// An arrangement has exactly one writer, the operator that owns its trace,
// and any number of concurrent readers holding independent cursors.
// Sharing a built arrangement across joins is the central efficiency
// device of the engine: readers see immutable spine snapshots, so no data
// access ever takes a lock.
package arrange

import (
	"fmt"

	"github.com/tessera-db/tessera/ivm"
)

// Arrangement is the writer handle over a trace plus the key/value split
// its index is defined by.
type Arrangement struct {
	name  string
	split ivm.SplitFunc
	trace *Trace
}

// New creates an empty arrangement. The split function fixes, permanently,
// which part of each row is the index key.
func New(name string, split ivm.SplitFunc, opts ...TraceOption) *Arrangement {
	if split == nil {
		split = ivm.IdentitySplit
	}
	return &Arrangement{name: name, split: split, trace: NewTrace(opts...)}
}

// Name returns the arrangement's name, used for persistence and logging.
func (a *Arrangement) Name() string { return a.name }

// Trace exposes the underlying trace, e.g. to register it with a Merger.
func (a *Arrangement) Trace() *Trace { return a.trace }

// Frontier returns the time up to which ingestion is complete.
func (a *Arrangement) Frontier() ivm.Time { return a.trace.Frontier() }

// Since returns the compaction floor.
func (a *Arrangement) Since() ivm.Time { return a.trace.Since() }

// AdvanceSince raises the compaction floor.
func (a *Arrangement) AdvanceSince(s ivm.Time) error { return a.trace.AdvanceSince(s) }

// Insert splits, sorts and seals one round of updates into a batch
// covering [Frontier, upper) and appends it to the trace. The whole batch
// fails if any row fails the split or carries a time outside the window:
// a malformed row is a configuration defect, never silently dropped, and
// an update below the floor would make results downstream of it wrong.
func (a *Arrangement) Insert(upper ivm.Time, updates []ivm.Update) (*Batch, error) {
	keyed := make([]ivm.KeyedUpdate, 0, len(updates))
	for _, u := range updates {
		key, val, err := a.split(u.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: arrangement %q row %q: %v",
				ivm.ErrSplit, a.name, string(u.Data), err)
		}
		keyed = append(keyed, ivm.KeyedUpdate{Key: key, Val: val, Time: u.Time, Diff: u.Diff})
	}
	return a.InsertKeyed(upper, keyed)
}

// InsertKeyed is Insert for updates already split into (key, val).
func (a *Arrangement) InsertKeyed(upper ivm.Time, updates []ivm.KeyedUpdate) (*Batch, error) {
	lower := a.trace.Frontier()
	since := a.trace.Since()
	if upper < lower {
		return nil, fmt.Errorf("%w: upper %d behind frontier %d", ivm.ErrOutOfWindow, upper, lower)
	}
	for _, u := range updates {
		if u.Time < since {
			return nil, fmt.Errorf("%w: update at %d, floor %d", ivm.ErrBelowSince, u.Time, since)
		}
		if u.Time < lower || u.Time >= upper {
			return nil, fmt.Errorf("%w: update at %d outside [%d,%d)",
				ivm.ErrOutOfWindow, u.Time, lower, upper)
		}
	}
	b := BatchFromUpdates(lower, upper, updates)
	if err := a.trace.Insert(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Reader returns a shared read handle. Readers are cheap; create as many
// as there are consumers.
func (a *Arrangement) Reader() *Reader { return &Reader{trace: a.trace} }

// ValCount is one value with its accumulated net multiplicity.
type ValCount struct {
	Val   ivm.Row
	Count int64
}

// Reader is a read-only handle on an arrangement's trace. Every method
// works against an immutable spine snapshot taken at call time, so results
// already returned never change retroactively as the writer appends.
type Reader struct {
	trace *Trace
}

// Frontier returns the time up to which this reader's view is complete.
func (r *Reader) Frontier() ivm.Time { return r.trace.Frontier() }

// Since returns the compaction floor of the underlying trace.
func (r *Reader) Since() ivm.Time { return r.trace.Since() }

// Cursor returns a full-scan cursor over the current snapshot.
func (r *Reader) Cursor() *Cursor {
	return newCursor(r.trace.snapshot().batches)
}

// Lookup returns the merged (time, diff) history of every value under key.
func (r *Reader) Lookup(key ivm.Row) []ValHistory {
	return lookupKey(r.trace.snapshot().batches, key)
}

// ReadAt reconstructs the key's contents as of time t: each value with its
// net multiplicity, zeros omitted. Only valid for t >= Since.
func (r *Reader) ReadAt(key ivm.Row, t ivm.Time) []ValCount {
	var out []ValCount
	for _, h := range r.Lookup(key) {
		if c := h.AccumulateAt(t); c != 0 {
			out = append(out, ValCount{Val: h.Val, Count: c})
		}
	}
	return out
}

// CountAt returns the key's total multiplicity across all values at t,
// the quantity anti-join maintenance needs.
func (r *Reader) CountAt(key ivm.Row, t ivm.Time) int64 {
	var total int64
	for _, h := range r.Lookup(key) {
		total += h.AccumulateAt(t)
	}
	return total
}

// SnapshotAt reconstructs the whole arrangement as of t, one keyed update
// per surviving (key, val) carrying its net count. Only valid for
// t >= Since.
func (r *Reader) SnapshotAt(t ivm.Time) []ivm.KeyedUpdate {
	var out []ivm.KeyedUpdate
	type acc struct {
		key, val ivm.Row
		count    int64
	}
	cur := r.Cursor()
	defer cur.Close()

	var pending *acc
	flush := func() {
		if pending != nil && pending.count != 0 {
			out = append(out, ivm.KeyedUpdate{
				Key: pending.key, Val: pending.val, Time: t, Diff: pending.count,
			})
		}
		pending = nil
	}
	for cur.Next() {
		if cur.Time() > t {
			continue
		}
		if pending == nil || !pending.key.Equal(cur.Key()) || !pending.val.Equal(cur.Val()) {
			flush()
			pending = &acc{key: cur.Key(), val: cur.Val()}
		}
		pending.count += cur.Diff()
	}
	flush()
	return out
}
