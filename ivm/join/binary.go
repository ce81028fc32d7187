// Package join implements the incremental join operators of the engine:
// the binary equi-join, the stateless functional join, the multiway
// delta-join engine, and the outer-join augmentation that reduces left
// joins to inner ones.
//
// All operators read shared arrangements (package arrange) and never build
// private copies of their inputs' state; what they add is only the logic
// that turns one instant's input batches into exactly the output updates a
// from-scratch re-evaluation would show.
package join

import (
	"fmt"

	"github.com/tessera-db/tessera/ivm"
	"github.com/tessera-db/tessera/ivm/arrange"
)

// Binary maintains the equi-join of two arrangements keyed identically.
//
// Two updates ((key,v1),t1,d1) and ((key,v2),t2,d2) from opposite sides
// combine into (result(key,v1,v2), max(t1,t2), d1*d2). When both sides
// receive a batch at the same instant the operator is deliberately
// asymmetric: the left batch is joined against the right side's state
// including the right batch, while the right batch is joined against the
// left side's state strictly before the instant. Each concurrent pair is
// therefore counted exactly once.
type Binary struct {
	left, right *arrange.Reader
	result      func(key, leftVal, rightVal ivm.Row) ivm.Row
}

// NewBinary creates the operator over two pre-arranged inputs. Callers
// with raw update streams arrange them first; that cost is why shared
// arrangements exist.
func NewBinary(left, right *arrange.Reader, result func(key, leftVal, rightVal ivm.Row) ivm.Row) (*Binary, error) {
	if left == nil || right == nil {
		return nil, fmt.Errorf("join: binary join requires two arranged inputs")
	}
	if result == nil {
		return nil, fmt.Errorf("join: binary join requires a result constructor")
	}
	return &Binary{left: left, right: right, result: result}, nil
}

// Step produces the operator's output for one instant, after both input
// arrangements have ingested their batches for it. Either batch may be
// nil or empty when a side received no updates.
func (j *Binary) Step(leftBatch, rightBatch *arrange.Batch) ([]ivm.Update, error) {
	instant, err := batchInstant(leftBatch, rightBatch)
	if err != nil {
		return nil, err
	}

	var out []ivm.Update

	// Left batch sees the right side's state with the instant included.
	if leftBatch != nil {
		for _, u := range leftBatch.Collect() {
			for _, h := range j.right.Lookup(u.Key) {
				for i, t2 := range h.Times {
					out = append(out, ivm.Update{
						Data: j.result(u.Key, u.Val, h.Val),
						Time: maxTime(u.Time, t2),
						Diff: u.Diff * h.Diffs[i],
					})
				}
			}
		}
	}

	// Right batch sees the left side's state strictly before the instant,
	// excluding the left batch that arrived concurrently.
	if rightBatch != nil {
		for _, u := range rightBatch.Collect() {
			for _, h := range j.left.Lookup(u.Key) {
				for i, t2 := range h.Times {
					if t2 >= instant {
						continue
					}
					out = append(out, ivm.Update{
						Data: j.result(u.Key, h.Val, u.Val),
						Time: maxTime(u.Time, t2),
						Diff: u.Diff * h.Diffs[i],
					})
				}
			}
		}
	}

	return ivm.Consolidate(out), nil
}

// batchInstant returns the shared lower bound of the two batches, which is
// the instant the round is processed at.
func batchInstant(a, b *arrange.Batch) (ivm.Time, error) {
	switch {
	case a != nil && b != nil:
		if a.Lower() != b.Lower() {
			return 0, fmt.Errorf("join: concurrent batches disagree on instant: [%d,%d) vs [%d,%d)",
				a.Lower(), a.Upper(), b.Lower(), b.Upper())
		}
		return a.Lower(), nil
	case a != nil:
		return a.Lower(), nil
	case b != nil:
		return b.Lower(), nil
	default:
		return 0, nil
	}
}
