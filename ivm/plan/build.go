package plan

import (
	"fmt"

	"github.com/tessera-db/tessera/ivm"
	"github.com/tessera-db/tessera/ivm/arrange"
	"github.com/tessera-db/tessera/ivm/codec"
	"github.com/tessera-db/tessera/ivm/join"
)

// SplitFor returns the split function arranging the relation's codec-tuple
// rows by one column: key is the column's encoding, value is the whole
// row. A row that fails to decode or has the wrong arity fails the split,
// and with it the batch carrying it.
func SplitFor(g *Graph, rel, col int) ivm.SplitFunc {
	arity := g.Relations[rel].Arity
	name := g.Relations[rel].Name
	return func(data ivm.Row) (ivm.Row, ivm.Row, error) {
		vals, err := codec.Decode(data)
		if err != nil {
			return nil, nil, fmt.Errorf("relation %q: %w", name, err)
		}
		if len(vals) != arity {
			return nil, nil, fmt.Errorf("relation %q: row has %d columns, want %d", name, len(vals), arity)
		}
		return codec.Encode(vals[col]), data, nil
	}
}

// Arrangements returns every (relation, column) arrangement the delta
// rules will probe under the heuristic: each relation arranged by every
// attribute it is probed on, across all rules, not only the attribute of
// its own rule.
func (g *Graph) Arrangements(h Heuristic) ([]Required, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if h == nil {
		h = Greedy{}
	}
	seen := make(map[Required]bool)
	var out []Required
	for start := range g.Relations {
		steps, err := g.ruleSteps(h, start)
		if err != nil {
			return nil, err
		}
		for _, s := range steps {
			req := Required{Rel: s.rel, Col: s.keyCol}
			if !seen[req] {
				seen[req] = true
				out = append(out, req)
			}
		}
	}
	return out, nil
}

// ruleStep captures the planning of one probe in one rule.
type ruleStep struct {
	rel     int // probed relation
	keyCol  int // column the probed relation is arranged by
	keyPos  int // position of the probe key in the in-flight layout
	filters []filter
}

// filter is an extra equality between two positions of the layout after
// the step's combine.
type filter struct {
	a, b int
}

// ruleSteps plans the probe chain for the rule initiated by relation
// start: visit order from the heuristic, one probe per remaining
// relation, keyed by the first constraint into the visited set, extra
// constraints becoming filters.
func (g *Graph) ruleSteps(h Heuristic, start int) ([]ruleStep, error) {
	order, err := h.Order(g, start)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 || order[0] != start {
		return nil, fmt.Errorf("plan: heuristic order must begin with the rule's input")
	}

	offset := make([]int, len(g.Relations))
	visited := make([]bool, len(g.Relations))
	visited[start] = true
	width := g.Relations[start].Arity

	var steps []ruleStep
	for _, rel := range order[1:] {
		cons := g.constraintsBetween(visited, rel)
		if len(cons) == 0 {
			return nil, fmt.Errorf("plan: heuristic order visits %q before anything connects it",
				g.Relations[rel].Name)
		}
		offset[rel] = width
		step := ruleStep{
			rel:    rel,
			keyCol: cons[0].B.Col,
			keyPos: offset[cons[0].A.Rel] + cons[0].A.Col,
		}
		for _, c := range cons[1:] {
			step.filters = append(step.filters, filter{
				a: offset[c.A.Rel] + c.A.Col,
				b: offset[rel] + c.B.Col,
			})
		}
		steps = append(steps, step)
		visited[rel] = true
		width += g.Relations[rel].Arity
	}

	return steps, nil
}

// Build compiles the graph into a delta-join engine over the supplied
// arrangements. Every arrangement Arrangements reports must be present;
// a missing one is a plan error detected here, before execution.
func Build(g *Graph, h Heuristic, readers map[Required]*arrange.Reader) (*join.Delta, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if h == nil {
		h = Greedy{}
	}

	required, err := g.Arrangements(h)
	if err != nil {
		return nil, err
	}
	for _, req := range required {
		if readers[req] == nil {
			return nil, fmt.Errorf("plan: no arrangement of %q by column %d",
				g.Relations[req.Rel].Name, req.Col)
		}
	}

	var rules []join.Rule
	for start := range g.Relations {
		order, err := h.Order(g, start)
		if err != nil {
			return nil, err
		}
		steps, err := g.ruleSteps(h, start)
		if err != nil {
			return nil, err
		}

		rule := join.Rule{
			Input: g.Relations[start].Name,
			Slot:  start,
		}
		for _, s := range steps {
			rule.Steps = append(rule.Steps, join.Step{Probes: []join.Probe{{
				Slot:    s.rel,
				Reader:  readers[Required{Rel: s.rel, Col: s.keyCol}],
				Key:     keyAt(s.keyPos),
				Combine: concat,
				Filter:  equalityFilter(s.filters),
			}}})
		}
		rule.Project = g.projection(order)
		rules = append(rules, rule)
	}
	return join.NewDelta(rules)
}

// projection permutes a rule's visit-order layout back to the canonical
// layout, relations concatenated in graph order. The identity case is
// detected and skipped.
func (g *Graph) projection(order []int) func(ivm.Row) (ivm.Row, error) {
	identity := true
	for i, rel := range order {
		if i != rel {
			identity = false
			break
		}
	}
	if identity {
		return nil
	}

	offset := make([]int, len(g.Relations))
	width := 0
	for _, rel := range order {
		offset[rel] = width
		width += g.Relations[rel].Arity
	}
	total := width

	return func(row ivm.Row) (ivm.Row, error) {
		vals, err := codec.Decode(row)
		if err != nil {
			return nil, err
		}
		if len(vals) != total {
			return nil, fmt.Errorf("plan: row has %d columns, want %d", len(vals), total)
		}
		out := make([]codec.Value, 0, total)
		for rel, r := range g.Relations {
			out = append(out, vals[offset[rel]:offset[rel]+r.Arity]...)
		}
		return codec.Encode(out...), nil
	}
}

// keyAt extracts the value at a layout position as a probe key; null
// yields a nil key, which never matches.
func keyAt(pos int) func(ivm.Row) (ivm.Row, error) {
	return func(row ivm.Row) (ivm.Row, error) {
		vals, err := codec.Decode(row)
		if err != nil {
			return nil, err
		}
		if pos >= len(vals) {
			return nil, fmt.Errorf("plan: key position %d out of range (%d columns)", pos, len(vals))
		}
		if vals[pos] == nil {
			return nil, nil
		}
		return codec.Encode(vals[pos]), nil
	}
}

// equalityFilter enforces the step's extra equalities after the combine.
// Null equals nothing, including null.
func equalityFilter(filters []filter) func(ivm.Row) (bool, error) {
	if len(filters) == 0 {
		return nil
	}
	return func(row ivm.Row) (bool, error) {
		vals, err := codec.Decode(row)
		if err != nil {
			return false, err
		}
		for _, f := range filters {
			if f.a >= len(vals) || f.b >= len(vals) {
				return false, fmt.Errorf("plan: filter position out of range")
			}
			if vals[f.a] == nil || vals[f.b] == nil {
				return false, nil
			}
			if vals[f.a] != vals[f.b] {
				return false, nil
			}
		}
		return true, nil
	}
}

func concat(a, b ivm.Row) ivm.Row {
	out := make(ivm.Row, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
