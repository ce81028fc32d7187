package join

import (
	"github.com/tessera-db/tessera/ivm"
)

// Bias selects which of a probed arrangement's times a half-join may see
// relative to the instant being processed. The delta engine derives it
// from the plan's global input order; it is what makes concurrent
// multi-input updates count exactly once.
type Bias int

const (
	// BiasBefore probes the state strictly before the instant, excluding
	// any batch ingested for it.
	BiasBefore Bias = iota
	// BiasAfter probes everything published, the instant's batch included.
	BiasAfter
)

// deltaRow is one in-flight tuple of a delta stream passing through a
// probe chain.
type deltaRow struct {
	row ivm.Row
	t   ivm.Time
	d   int64
}

func maxTime(a, b ivm.Time) ivm.Time {
	if a > b {
		return a
	}
	return b
}

// probeArranged reacts to one side's updates by reading, never reacting
// to, the probed arrangement: for each incoming (row, t1, d1) and each
// matched (val, t2, d2) visible under the bias it emits
// (combine(row, val), max(t1, t2), d1*d2).
//
// A Key function returning a nil key marks the row as unmatchable at this
// step (e.g. a null join key) and it is dropped.
func probeArranged(in []deltaRow, p Probe, bias Bias, instant ivm.Time) ([]deltaRow, error) {
	var out []deltaRow
	for _, dr := range in {
		key, err := p.Key(dr.row)
		if err != nil {
			return nil, err
		}
		if key == nil {
			continue
		}
		for _, h := range p.Reader.Lookup(key) {
			for i, t2 := range h.Times {
				if bias == BiasBefore && t2 >= instant {
					continue
				}
				row := p.Combine(dr.row, h.Val)
				if p.Filter != nil {
					ok, err := p.Filter(row)
					if err != nil {
						return nil, err
					}
					if !ok {
						continue
					}
				}
				out = append(out, deltaRow{
					row: row,
					t:   maxTime(dr.t, t2),
					d:   dr.d * h.Diffs[i],
				})
			}
		}
	}
	return out, nil
}

// probeFunctional applies a stateless one-to-many transform to each
// incoming row. Output rows inherit the input's time and diff; the
// transform holds no state, so no bias applies.
func probeFunctional(in []deltaRow, p Probe) ([]deltaRow, error) {
	var out []deltaRow
	for _, dr := range in {
		it := p.Fn(dr.row)
		for it.Next() {
			out = append(out, deltaRow{row: it.Row(), t: dr.t, d: dr.d})
		}
		if err := it.Close(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
