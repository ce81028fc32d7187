package plan

import (
	"fmt"
)

// Heuristic chooses the traversal order a delta rule probes the other
// relations in, starting from the rule's own input. The choice has real
// performance consequences but no single mandated algorithm, so it is a
// pluggable policy; correctness never depends on it.
type Heuristic interface {
	// Order returns a permutation of all relation indexes beginning with
	// start, in which every relation is connected by some constraint to
	// an earlier one.
	Order(g *Graph, start int) ([]int, error)
}

// Greedy is the default heuristic: repeatedly extend the visited set with
// the lowest-indexed relation connected to it. Deterministic and always
// valid on a connected graph; smarter orders (cardinality estimates,
// selectivity) can replace it without touching the engine.
type Greedy struct{}

// Order implements Heuristic.
func (Greedy) Order(g *Graph, start int) ([]int, error) {
	if start < 0 || start >= len(g.Relations) {
		return nil, fmt.Errorf("plan: order start %d out of range", start)
	}
	visited := make([]bool, len(g.Relations))
	visited[start] = true
	order := []int{start}

	for len(order) < len(g.Relations) {
		next := -1
		for rel := range g.Relations {
			if visited[rel] {
				continue
			}
			if len(g.constraintsBetween(visited, rel)) > 0 {
				next = rel
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("plan: join graph is not connected from %q", g.Relations[start].Name)
		}
		visited[next] = true
		order = append(order, next)
	}
	return order, nil
}
