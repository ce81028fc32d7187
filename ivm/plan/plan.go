// Package plan carries the join-graph and key-definition metadata an
// external planner hands the engine: which relations participate, which
// column equalities connect them, and the traversal order each delta rule
// probes them in. Everything here is validated before incremental
// execution begins; a plan error is a configuration defect, never a
// per-update runtime failure.
package plan

import (
	"fmt"
)

// Attr names one column of one relation.
type Attr struct {
	Rel int
	Col int
}

// Constraint is one equality edge of the join graph.
type Constraint struct {
	A, B Attr
}

// Relation is one join input. Its position in the Graph's slice is both
// its identity and its slot in the global total order that delta rules
// use for bias decisions. The slot is an explicit configuration value,
// not mutable state.
type Relation struct {
	Name  string
	Arity int
}

// Graph is a multiway equi-join: relations plus the equalities connecting
// them.
type Graph struct {
	Relations   []Relation
	Constraints []Constraint
}

// Required names one arrangement a plan needs: relation Rel arranged by
// column Col. A relation probed on different attributes by different
// rules needs one arrangement per attribute.
type Required struct {
	Rel int
	Col int
}

// Validate checks the graph is well formed and connected.
func (g *Graph) Validate() error {
	if len(g.Relations) == 0 {
		return fmt.Errorf("plan: no relations")
	}
	names := make(map[string]bool, len(g.Relations))
	for i, r := range g.Relations {
		if r.Name == "" {
			return fmt.Errorf("plan: relation %d has no name", i)
		}
		if names[r.Name] {
			return fmt.Errorf("plan: duplicate relation name %q", r.Name)
		}
		names[r.Name] = true
		if r.Arity <= 0 {
			return fmt.Errorf("plan: relation %q has arity %d", r.Name, r.Arity)
		}
	}
	for i, c := range g.Constraints {
		for _, a := range []Attr{c.A, c.B} {
			if a.Rel < 0 || a.Rel >= len(g.Relations) {
				return fmt.Errorf("plan: constraint %d references relation %d", i, a.Rel)
			}
			if a.Col < 0 || a.Col >= g.Relations[a.Rel].Arity {
				return fmt.Errorf("plan: constraint %d references column %d of %q",
					i, a.Col, g.Relations[a.Rel].Name)
			}
		}
		if c.A.Rel == c.B.Rel {
			return fmt.Errorf("plan: constraint %d relates %q to itself", i, g.Relations[c.A.Rel].Name)
		}
	}
	if len(g.Relations) > 1 && !g.connected() {
		return fmt.Errorf("plan: join graph is not connected")
	}
	return nil
}

func (g *Graph) connected() bool {
	seen := make([]bool, len(g.Relations))
	stack := []int{0}
	seen[0] = true
	count := 1
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range g.Constraints {
			for _, next := range []int{c.A.Rel, c.B.Rel} {
				if (c.A.Rel == cur || c.B.Rel == cur) && !seen[next] {
					seen[next] = true
					count++
					stack = append(stack, next)
				}
			}
		}
	}
	return count == len(g.Relations)
}

// constraintsBetween returns every constraint linking rel to any relation
// marked visited, normalized so A is the visited side.
func (g *Graph) constraintsBetween(visited []bool, rel int) []Constraint {
	var out []Constraint
	for _, c := range g.Constraints {
		switch {
		case visited[c.A.Rel] && c.B.Rel == rel:
			out = append(out, c)
		case visited[c.B.Rel] && c.A.Rel == rel:
			out = append(out, Constraint{A: c.B, B: c.A})
		}
	}
	return out
}

// Index returns the position of the named relation, or -1.
func (g *Graph) Index(name string) int {
	for i, r := range g.Relations {
		if r.Name == name {
			return i
		}
	}
	return -1
}
