package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chainYAML = `
relations:
  - name: r0
    arity: 2
  - name: r1
    arity: 2
constraints:
  - left:  {rel: r0, col: 1}
    right: {rel: r1, col: 0}
`

func TestFromYAML(t *testing.T) {
	g, err := FromYAML([]byte(chainYAML))
	require.NoError(t, err)
	require.Len(t, g.Relations, 2)
	assert.Equal(t, Relation{Name: "r0", Arity: 2}, g.Relations[0])
	require.Len(t, g.Constraints, 1)
	assert.Equal(t, Constraint{
		A: Attr{Rel: 0, Col: 1},
		B: Attr{Rel: 1, Col: 0},
	}, g.Constraints[0])
}

func TestFromYAMLErrors(t *testing.T) {
	cases := map[string]string{
		"syntax": `relations: [`,
		"unknown relation": `
relations:
  - name: r0
    arity: 1
constraints:
  - left:  {rel: r0, col: 0}
    right: {rel: ghost, col: 0}
`,
		"fails validation": `
relations:
  - name: r0
    arity: 2
  - name: r1
    arity: 2
`,
	}
	for name, doc := range cases {
		_, err := FromYAML([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(chainYAML), 0o644))

	g, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, g.Relations, 2)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
