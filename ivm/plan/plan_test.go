package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainGraph() *Graph {
	// r0(a,b) -- r1(b,c) -- r2(c,d)
	return &Graph{
		Relations: []Relation{
			{Name: "r0", Arity: 2},
			{Name: "r1", Arity: 2},
			{Name: "r2", Arity: 2},
		},
		Constraints: []Constraint{
			{A: Attr{Rel: 0, Col: 1}, B: Attr{Rel: 1, Col: 0}},
			{A: Attr{Rel: 1, Col: 1}, B: Attr{Rel: 2, Col: 0}},
		},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, chainGraph().Validate())

	cases := []struct {
		name string
		mut  func(*Graph)
	}{
		{"no relations", func(g *Graph) { g.Relations = nil }},
		{"empty name", func(g *Graph) { g.Relations[0].Name = "" }},
		{"duplicate name", func(g *Graph) { g.Relations[1].Name = "r0" }},
		{"zero arity", func(g *Graph) { g.Relations[0].Arity = 0 }},
		{"bad relation index", func(g *Graph) { g.Constraints[0].A.Rel = 9 }},
		{"bad column", func(g *Graph) { g.Constraints[0].B.Col = 5 }},
		{"self edge", func(g *Graph) { g.Constraints[0].B.Rel = 0 }},
		{"disconnected", func(g *Graph) { g.Constraints = g.Constraints[:1] }},
	}
	for _, c := range cases {
		g := chainGraph()
		c.mut(g)
		assert.Error(t, g.Validate(), c.name)
	}
}

func TestGreedyOrder(t *testing.T) {
	g := chainGraph()

	order, err := Greedy{}.Order(g, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, order)

	// starting from the middle both neighbors connect immediately; greedy
	// prefers the lower index
	order, err = Greedy{}.Order(g, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 2}, order)

	order, err = Greedy{}.Order(g, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 0}, order)

	_, err = Greedy{}.Order(g, 7)
	assert.Error(t, err)
}

func TestArrangementsCoverEveryProbedAttribute(t *testing.T) {
	g := chainGraph()
	required, err := g.Arrangements(Greedy{})
	require.NoError(t, err)

	want := map[Required]bool{
		{Rel: 0, Col: 1}: true, // probed from r1's and r2's rules
		{Rel: 1, Col: 0}: true, // probed from r0's rule
		{Rel: 1, Col: 1}: true, // probed from r2's rule
		{Rel: 2, Col: 0}: true, // probed from r0's and r1's rules
	}
	got := make(map[Required]bool, len(required))
	for _, r := range required {
		got[r] = true
	}
	assert.Equal(t, want, got)
}

func TestIndex(t *testing.T) {
	g := chainGraph()
	assert.Equal(t, 1, g.Index("r1"))
	assert.Equal(t, -1, g.Index("nope"))
}
