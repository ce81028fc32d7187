package ivm

import (
	"bytes"
	"fmt"
)

// Time is a logical timestamp drawn from an externally supplied, totally
// ordered time domain. The engine never interprets it beyond ordering.
type Time uint64

// Row is an opaque, binary-comparable row encoding. Two rows are equal iff
// their bytes are equal, and bytes.Compare order is the row order.
type Row []byte

// Update is the fundamental unit of change in the system
// It represents one row's multiplicity changing by Diff at Time
type Update struct {
	Data Row
	Time Time
	Diff int64
}

// KeyedUpdate is an update whose row has been split into (key, val) per an
// arrangement's index definition.
type KeyedUpdate struct {
	Key  Row
	Val  Row
	Time Time
	Diff int64
}

// SplitFunc splits a row into the (key, val) pair an arrangement indexes it
// under. The split must be a pure, stable function of the row: a row may
// never change which key it maps to except as a retraction plus insertion.
type SplitFunc func(data Row) (key, val Row, err error)

// IdentitySplit indexes the whole row as the key with an empty value.
func IdentitySplit(data Row) (Row, Row, error) {
	return data, nil, nil
}

// Compare compares two rows in index order.
func (r Row) Compare(other Row) int {
	return bytes.Compare(r, other)
}

// Equal reports whether two rows have identical encodings.
func (r Row) Equal(other Row) bool {
	return bytes.Equal(r, other)
}

// Clone returns an independent copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// String returns a string representation of the update
func (u Update) String() string {
	return fmt.Sprintf("(%q @%d %+d)", string(u.Data), u.Time, u.Diff)
}

// String returns a string representation of the keyed update
func (u KeyedUpdate) String() string {
	return fmt.Sprintf("(%q:%q @%d %+d)", string(u.Key), string(u.Val), u.Time, u.Diff)
}
