package join

import (
	"fmt"

	"github.com/tessera-db/tessera/ivm"
	"github.com/tessera-db/tessera/ivm/arrange"
)

// Probe is one asymmetric read against a pre-arranged relation (or a
// stateless functional alternative) inside a delta rule's chain.
type Probe struct {
	// Slot is the probed state's position in the plan's global input
	// order. The engine compares it with the rule's slot to pick the
	// probe's bias; this is the entire mechanism behind exactly-once
	// accounting under concurrent multi-input updates.
	Slot int

	// Reader is the arrangement of the probed relation, keyed by the
	// attribute used at this step. Nil marks a functional probe.
	Reader *arrange.Reader

	// Key extracts the probe key from the in-flight row. Returning a nil
	// key drops the row at this step (null join keys never match).
	Key func(ivm.Row) (ivm.Row, error)

	// Combine folds a matched value into the in-flight row.
	Combine func(cur, matched ivm.Row) ivm.Row

	// Filter, when set, rejects combined rows that violate equality
	// constraints beyond the probe key.
	Filter func(ivm.Row) (bool, error)

	// Fn is the functional alternative: a pure one-to-many transform of
	// the in-flight row, used when Reader is nil.
	Fn func(ivm.Row) RowIter
}

// Step is one link of a rule's probe chain. Its probes are alternatives
// whose outputs are summed: a plain inner join has exactly one, an
// augmented (outer-join) relation decomposes into three.
type Step struct {
	Probes []Probe
}

// Rule is one input's response rule: d(query)/d(input) = (update to
// input) joined through the chain of asymmetric probes.
type Rule struct {
	// Input names the update stream that triggers this rule.
	Input string
	// Slot is the initiating input's position in the global order.
	Slot int
	// Steps probe the remaining relations in the plan's traversal order.
	Steps []Step
	// Project normalizes the finished row's column order, since different
	// rules accumulate columns in different traversal orders. Nil means
	// the accumulated order is already canonical.
	Project func(ivm.Row) (ivm.Row, error)
}

// Delta maintains an n-way equi-join as a sum of per-input response
// rules. No intermediate join result is ever arranged: every step reads a
// shared arrangement of a base relation, and the in-flight delta stream
// stays a transient slice.
type Delta struct {
	rules []Rule
}

// NewDelta validates the rules and builds the engine. Misconfiguration,
// like a probe with no arrangement and no functional transform, or a
// missing key extractor, is reported here, before any update is
// processed, never as a per-update failure.
func NewDelta(rules []Rule) (*Delta, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("join: delta join needs at least one rule")
	}
	for _, r := range rules {
		if r.Input == "" {
			return nil, fmt.Errorf("join: rule with empty input name")
		}
		for si, s := range r.Steps {
			if len(s.Probes) == 0 {
				return nil, fmt.Errorf("join: rule %q step %d has no probes", r.Input, si)
			}
			for pi, p := range s.Probes {
				if p.Reader == nil && p.Fn == nil {
					return nil, fmt.Errorf("join: rule %q step %d probe %d has neither arrangement nor transform",
						r.Input, si, pi)
				}
				if p.Reader != nil && (p.Key == nil || p.Combine == nil) {
					return nil, fmt.Errorf("join: rule %q step %d probe %d lacks key extractor or combiner",
						r.Input, si, pi)
				}
			}
		}
	}
	return &Delta{rules: rules}, nil
}

// Step processes one instant. All input arrangements must already have
// ingested their batches for the instant; the bias machinery then reads
// each one either before or after those batches as the global order
// dictates. The returned updates are consolidated.
func (d *Delta) Step(instant ivm.Time, inputs map[string][]ivm.Update) ([]ivm.Update, error) {
	var out []ivm.Update
	for _, rule := range d.rules {
		updates := inputs[rule.Input]
		if len(updates) == 0 {
			continue
		}

		cur := make([]deltaRow, 0, len(updates))
		for _, u := range updates {
			cur = append(cur, deltaRow{row: u.Data, t: u.Time, d: u.Diff})
		}

		for _, step := range rule.Steps {
			var next []deltaRow
			for _, p := range step.Probes {
				var (
					got []deltaRow
					err error
				)
				if p.Reader != nil {
					bias := BiasAfter
					if p.Slot < rule.Slot {
						bias = BiasBefore
					}
					got, err = probeArranged(cur, p, bias, instant)
				} else {
					got, err = probeFunctional(cur, p)
				}
				if err != nil {
					return nil, fmt.Errorf("join: rule %q: %w", rule.Input, err)
				}
				next = append(next, got...)
			}
			cur = next
			if len(cur) == 0 {
				break
			}
		}

		for _, dr := range cur {
			row := dr.row
			if rule.Project != nil {
				var err error
				row, err = rule.Project(dr.row)
				if err != nil {
					return nil, fmt.Errorf("join: rule %q: %w", rule.Input, err)
				}
			}
			out = append(out, ivm.Update{Data: row, Time: dr.t, Diff: dr.d})
		}
	}
	return ivm.Consolidate(out), nil
}
