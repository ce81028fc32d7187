package join

import (
	"github.com/tessera-db/tessera/ivm"
)

// RowIter is a lazy, finite, restartable-by-recreation sequence of rows.
// Implementations follow the Next/Row/Close iterator convention used
// throughout the module.
type RowIter interface {
	Next() bool
	Row() ivm.Row
	Close() error
}

// sliceRows iterates a fixed slice.
type sliceRows struct {
	rows []ivm.Row
	i    int
}

// Rows returns a RowIter over the given rows.
func Rows(rows ...ivm.Row) RowIter {
	return &sliceRows{rows: rows, i: -1}
}

// NoRows returns an empty RowIter.
func NoRows() RowIter {
	return &sliceRows{i: -1}
}

func (it *sliceRows) Next() bool {
	if it.i+1 < len(it.rows) {
		it.i++
		return true
	}
	return false
}

func (it *sliceRows) Row() ivm.Row { return it.rows[it.i] }

func (it *sliceRows) Close() error { return nil }

// Functional is the degenerate join whose second input is a pure function
// of the first input's row rather than a materialized relation. It is a
// stateless one-to-many transform: each input row yields a fresh, finite
// row sequence, and nothing is retained between calls.
type Functional struct {
	fn func(ivm.Row) RowIter
}

// NewFunctional wraps fn as an operator.
func NewFunctional(fn func(ivm.Row) RowIter) *Functional {
	return &Functional{fn: fn}
}

// Apply transforms one round of updates. Each output row carries its input
// row's time and diff.
func (f *Functional) Apply(updates []ivm.Update) ([]ivm.Update, error) {
	var out []ivm.Update
	for _, u := range updates {
		it := f.fn(u.Data)
		for it.Next() {
			out = append(out, ivm.Update{Data: it.Row(), Time: u.Time, Diff: u.Diff})
		}
		if err := it.Close(); err != nil {
			return nil, err
		}
	}
	return ivm.Consolidate(out), nil
}
