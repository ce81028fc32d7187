package ivm

import (
	"sort"
)

// Consolidate sorts updates by (data, time) and merges entries that agree on
// both, summing their diffs and dropping any that net to zero. The result is
// the canonical form of an update set: two update sets describe the same
// collection history iff they consolidate to the same slice.
func Consolidate(updates []Update) []Update {
	if len(updates) == 0 {
		return updates
	}

	sort.Slice(updates, func(i, j int) bool {
		if c := updates[i].Data.Compare(updates[j].Data); c != 0 {
			return c < 0
		}
		return updates[i].Time < updates[j].Time
	})

	out := updates[:0]
	for _, u := range updates {
		if n := len(out); n > 0 && out[n-1].Data.Equal(u.Data) && out[n-1].Time == u.Time {
			out[n-1].Diff += u.Diff
			continue
		}
		out = append(out, u)
	}

	// Second pass drops zeros so a retraction that cancels an insertion
	// leaves no residue.
	result := out[:0]
	for _, u := range out {
		if u.Diff != 0 {
			result = append(result, u)
		}
	}
	return result
}

// ConsolidateKeyed is Consolidate for updates already split into (key, val).
// Sort order is (key, val, time), the order batches are laid out in.
func ConsolidateKeyed(updates []KeyedUpdate) []KeyedUpdate {
	if len(updates) == 0 {
		return updates
	}

	sort.Slice(updates, func(i, j int) bool {
		if c := updates[i].Key.Compare(updates[j].Key); c != 0 {
			return c < 0
		}
		if c := updates[i].Val.Compare(updates[j].Val); c != 0 {
			return c < 0
		}
		return updates[i].Time < updates[j].Time
	})

	out := updates[:0]
	for _, u := range updates {
		if n := len(out); n > 0 &&
			out[n-1].Key.Equal(u.Key) &&
			out[n-1].Val.Equal(u.Val) &&
			out[n-1].Time == u.Time {
			out[n-1].Diff += u.Diff
			continue
		}
		out = append(out, u)
	}

	result := out[:0]
	for _, u := range out {
		if u.Diff != 0 {
			result = append(result, u)
		}
	}
	return result
}

// AccumulateAt sums the diffs of a (time, diff) history at or before t.
func AccumulateAt(times []Time, diffs []int64, t Time) int64 {
	var total int64
	for i, ut := range times {
		if ut <= t {
			total += diffs[i]
		}
	}
	return total
}
