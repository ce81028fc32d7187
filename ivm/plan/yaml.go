package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlGraph is the on-disk plan format an external planner hands us.
//
//	relations:
//	  - name: facts
//	    arity: 2
//	  - name: users
//	    arity: 2
//	constraints:
//	  - left:  {rel: facts, col: 0}
//	    right: {rel: users, col: 0}
type yamlGraph struct {
	Relations []struct {
		Name  string `yaml:"name"`
		Arity int    `yaml:"arity"`
	} `yaml:"relations"`
	Constraints []struct {
		Left  yamlAttr `yaml:"left"`
		Right yamlAttr `yaml:"right"`
	} `yaml:"constraints"`
}

type yamlAttr struct {
	Rel string `yaml:"rel"`
	Col int    `yaml:"col"`
}

// FromYAML parses and validates a plan document.
func FromYAML(data []byte) (*Graph, error) {
	var doc yamlGraph
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	g := &Graph{}
	for _, r := range doc.Relations {
		g.Relations = append(g.Relations, Relation{Name: r.Name, Arity: r.Arity})
	}
	for i, c := range doc.Constraints {
		a, err := g.resolve(c.Left)
		if err != nil {
			return nil, fmt.Errorf("plan: constraint %d: %w", i, err)
		}
		b, err := g.resolve(c.Right)
		if err != nil {
			return nil, fmt.Errorf("plan: constraint %d: %w", i, err)
		}
		g.Constraints = append(g.Constraints, Constraint{A: a, B: b})
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Load reads and parses a plan file.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	return FromYAML(data)
}

func (g *Graph) resolve(a yamlAttr) (Attr, error) {
	rel := g.Index(a.Rel)
	if rel < 0 {
		return Attr{}, fmt.Errorf("unknown relation %q", a.Rel)
	}
	return Attr{Rel: rel, Col: a.Col}, nil
}
