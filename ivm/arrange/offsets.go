package arrange

import (
	"math"
)

// offsets stores a non-decreasing sequence of array offsets, specialized for
// the shapes batch layouts actually produce.
//
// Three representations are layered, cheapest first:
//
//  1. While appends follow an arithmetic progression the whole sequence is
//     kept as (start, stride, count). Snapshot batches with one value per
//     key and fixed-width payloads stay in this form end to end.
//  2. Once the progression breaks, entries are appended to a uint32 array.
//  3. An entry that does not fit 32 bits promotes the tail to uint64;
//     already-stored entries are never rewritten.
//
// All of this is invisible to callers: Index and Len behave as if a plain
// []uint64 were stored.
type offsets struct {
	start  uint64
	stride uint64
	count  int // length of the strided prefix

	narrow []uint32
	wide   []uint64
}

// Push appends x to the sequence.
func (o *offsets) Push(x uint64) {
	if len(o.narrow) == 0 && len(o.wide) == 0 {
		switch o.count {
		case 0:
			o.start = x
			o.count = 1
			return
		case 1:
			o.stride = x - o.start
			o.count = 2
			return
		default:
			if x == o.start+uint64(o.count)*o.stride {
				o.count++
				return
			}
		}
	}
	if len(o.wide) == 0 && x <= math.MaxUint32 {
		o.narrow = append(o.narrow, uint32(x))
		return
	}
	o.wide = append(o.wide, x)
}

// Index returns the i-th element.
func (o *offsets) Index(i int) uint64 {
	if i < o.count {
		return o.start + uint64(i)*o.stride
	}
	i -= o.count
	if i < len(o.narrow) {
		return uint64(o.narrow[i])
	}
	return o.wide[i-len(o.narrow)]
}

// Len returns the number of stored elements.
func (o *offsets) Len() int {
	return o.count + len(o.narrow) + len(o.wide)
}

// Last returns the final element, or zero on an empty sequence.
func (o *offsets) Last() uint64 {
	if n := o.Len(); n > 0 {
		return o.Index(n - 1)
	}
	return 0
}

// search returns the smallest index whose element is >= x, or Len if none.
// The sequence is non-decreasing, so plain binary search applies in every
// representation.
func (o *offsets) search(x uint64) int {
	lo, hi := 0, o.Len()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if o.Index(mid) < x {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
