package arrange

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tessera-db/tessera/ivm"
)

// BatchSink receives sealed batches as a trace publishes them, and is told
// when a merge retires batches. The store package implements this over
// BadgerDB.
type BatchSink interface {
	Put(b *Batch) error
	Remove(lower, upper ivm.Time) error
}

// spine is one immutable snapshot of a trace: the ordered batches whose
// windows exactly partition [0, frontier), plus the compaction floor.
// Readers load a spine once and work against it; nothing in a published
// spine ever changes.
type spine struct {
	batches  []*Batch
	since    ivm.Time
	frontier ivm.Time
}

// Trace is the ordered batch history of one arrangement. A single writer
// inserts batches and advances the compaction floor; any number of readers
// take lock-free snapshots through an atomic pointer. Merging publishes a
// fresh spine and never edits batches a reader may be scanning.
type Trace struct {
	mu     sync.Mutex // serializes writers and spine swaps
	cur    atomic.Pointer[spine]
	sink   BatchSink
	logger *zap.Logger
}

// TraceOption configures a trace at construction.
type TraceOption func(*Trace)

// WithSink attaches a persistence sink; every published batch is handed to
// it and merges report the windows they retire.
func WithSink(s BatchSink) TraceOption {
	return func(t *Trace) { t.sink = s }
}

// WithLogger sets the logger used for merge maintenance.
func WithLogger(l *zap.Logger) TraceOption {
	return func(t *Trace) { t.logger = l }
}

// NewTrace returns an empty trace with frontier and since at zero.
func NewTrace(opts ...TraceOption) *Trace {
	t := &Trace{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	t.cur.Store(&spine{})
	return t
}

func (t *Trace) snapshot() *spine { return t.cur.Load() }

// Frontier returns the time up to which the trace's history is complete:
// every update at a time < Frontier has been inserted.
func (t *Trace) Frontier() ivm.Time { return t.snapshot().frontier }

// Since returns the compaction floor. Queries below it are not guaranteed
// accurate.
func (t *Trace) Since() ivm.Time { return t.snapshot().since }

// Batches returns the current number of batches, which merging keeps
// logarithmic in the number of updates.
func (t *Trace) Batches() int { return len(t.snapshot().batches) }

// Insert appends a sealed batch. The batch's window must start exactly at
// the current frontier; insertion is never blocked by merge work.
func (t *Trace) Insert(b *Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sp := t.cur.Load()
	if b.Lower() != sp.frontier {
		return fmt.Errorf("%w: batch [%d,%d) at frontier %d",
			ivm.ErrOutOfWindow, b.Lower(), b.Upper(), sp.frontier)
	}
	if b.Lower() < sp.since {
		return fmt.Errorf("%w: batch [%d,%d) below since %d",
			ivm.ErrBelowSince, b.Lower(), b.Upper(), sp.since)
	}
	if t.sink != nil {
		if err := t.sink.Put(b); err != nil {
			return fmt.Errorf("persisting batch: %w", err)
		}
	}

	batches := make([]*Batch, len(sp.batches), len(sp.batches)+1)
	copy(batches, sp.batches)
	batches = append(batches, b)
	t.cur.Store(&spine{batches: batches, since: sp.since, frontier: b.Upper()})
	return nil
}

// Restore installs batches into an empty trace, e.g. reloaded from a
// persistent sink at startup. Windows must be contiguous from zero.
func (t *Trace) Restore(batches []*Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sp := t.cur.Load()
	if len(sp.batches) > 0 || sp.frontier != 0 {
		return fmt.Errorf("restore into non-empty trace")
	}
	frontier := ivm.Time(0)
	for _, b := range batches {
		if b.Lower() != frontier {
			return fmt.Errorf("%w: restored batch [%d,%d) at frontier %d",
				ivm.ErrOutOfWindow, b.Lower(), b.Upper(), frontier)
		}
		frontier = b.Upper()
	}
	t.cur.Store(&spine{batches: append([]*Batch(nil), batches...), frontier: frontier})
	return nil
}

// AdvanceSince raises the compaction floor. Detail at times below the new
// floor may afterwards be irrecoverably folded up to it by merging.
func (t *Trace) AdvanceSince(s ivm.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sp := t.cur.Load()
	if s < sp.since {
		return fmt.Errorf("since may not regress: %d < %d", s, sp.since)
	}
	if s == sp.since {
		return nil
	}
	next := &spine{batches: sp.batches, since: s, frontier: sp.frontier}
	t.cur.Store(next)
	return nil
}

// MaintenanceStep performs at most one merge and reports whether it did
// any work. Merging is pure off-path background work: the merged batch is
// built outside the lock and swapped in only if the spine still contains
// the two inputs; otherwise the result is abandoned, which is always safe
// because merging never mutates existing batches.
func (t *Trace) MaintenanceStep() (bool, error) {
	sp := t.snapshot()
	i := pickMerge(sp.batches)
	if i < 0 {
		return false, nil
	}
	a, b := sp.batches[i], sp.batches[i+1]
	merged := mergeBatches(a, b, sp.since)

	// Persist outside the lock so a slow sink write never holds up Insert.
	if t.sink != nil {
		if err := t.sink.Put(merged); err != nil {
			return false, fmt.Errorf("persisting merged batch: %w", err)
		}
	}

	if !t.trySwap(a, b, merged) {
		// spine moved under us; abandon the merge
		t.logger.Debug("abandoning stale merge",
			zap.Uint64("lower", uint64(merged.Lower())),
			zap.Uint64("upper", uint64(merged.Upper())))
		if t.sink != nil {
			if err := t.sink.Remove(merged.Lower(), merged.Upper()); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	if t.sink != nil {
		// The retired windows are covered by the merged one; a failure here
		// leaves redundant entries the loader skips on restore.
		if err := t.sink.Remove(a.Lower(), a.Upper()); err != nil {
			return true, err
		}
		if err := t.sink.Remove(b.Lower(), b.Upper()); err != nil {
			return true, err
		}
	}

	t.logger.Debug("merged batches",
		zap.Uint64("lower", uint64(merged.Lower())),
		zap.Uint64("upper", uint64(merged.Upper())),
		zap.Int("tuples", merged.Len()),
		zap.Int("remaining", t.Batches()))
	return true, nil
}

// trySwap replaces the adjacent pair (a, b) with merged if the current
// spine still contains the pair, reporting whether it did.
func (t *Trace) trySwap(a, b, merged *Batch) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.cur.Load()
	j := -1
	for k := 0; k+1 < len(cur.batches); k++ {
		if cur.batches[k] == a && cur.batches[k+1] == b {
			j = k
			break
		}
	}
	if j < 0 {
		return false
	}

	batches := make([]*Batch, 0, len(cur.batches)-1)
	batches = append(batches, cur.batches[:j]...)
	batches = append(batches, merged)
	batches = append(batches, cur.batches[j+2:]...)
	t.cur.Store(&spine{batches: batches, since: cur.since, frontier: cur.frontier})
	return true
}

// Maintain runs maintenance steps until none remain. Tests and callers
// without a background Merger use it to force full compaction.
func (t *Trace) Maintain() error {
	for {
		did, err := t.MaintenanceStep()
		if err != nil {
			return err
		}
		if !did {
			return nil
		}
	}
}

// pickMerge chooses an adjacent pair to merge, newest first: a batch that
// is not at least twice the size of its younger neighbor gets merged with
// it. This keeps batch sizes geometrically decreasing towards the
// frontier and the batch count logarithmic.
func pickMerge(batches []*Batch) int {
	for i := len(batches) - 2; i >= 0; i-- {
		if batches[i].Len() <= 2*batches[i+1].Len() {
			return i
		}
	}
	return -1
}

// mergeBatches produces the batch equivalent to its two adjacent inputs,
// folding times below since up to since and dropping anything that then
// cancels. The inputs are left untouched.
func mergeBatches(a, b *Batch, since ivm.Time) *Batch {
	updates := a.Collect()
	updates = append(updates, b.Collect()...)
	for i := range updates {
		if updates[i].Time < since {
			updates[i].Time = since
		}
	}
	return BatchFromUpdates(a.Lower(), b.Upper(), updates)
}
