package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainWith(id string, nodes []string, edges []Edge) Chain {
	built := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		built = append(built, Node{ID: n, ActionType: "noop"})
	}

	return Chain{ID: id, Name: id, Nodes: built, Edges: edges}
}

func TestTopologicalOrder_Linear(t *testing.T) {
	t.Parallel()

	chain := chainWith("c1", []string{"a", "b", "c"}, []Edge{{From: "a", To: "b"}, {From: "b", To: "c"}})

	order, err := TopologicalOrder(chain)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopologicalOrder_Diamond(t *testing.T) {
	t.Parallel()

	chain := chainWith("c1", []string{"a", "b", "c", "d"}, []Edge{
		{From: "a", To: "b"},
		{From: "a", To: "c"},
		{From: "b", To: "d"},
		{From: "c", To: "d"},
	})

	order, err := TopologicalOrder(chain)
	require.NoError(t, err)

	index := make(map[string]int, len(order))
	for i, id := range order {
		index[id] = i
	}

	for _, edge := range chain.Edges {
		assert.Less(t, index[edge.From], index[edge.To], "edge %s->%s out of order", edge.From, edge.To)
	}
}

func TestTopologicalOrder_DeterministicTieBreak(t *testing.T) {
	t.Parallel()

	chain := chainWith("c1", []string{"x", "y", "z"}, nil)

	for range 10 {
		order, err := TopologicalOrder(chain)
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y", "z"}, order)
	}
}

func TestTopologicalOrder_Cycle(t *testing.T) {
	t.Parallel()

	chain := chainWith("cyclic", []string{"a", "b"}, []Edge{{From: "a", To: "b"}, {From: "b", To: "a"}})

	_, err := TopologicalOrder(chain)
	require.Error(t, err)

	var graphErr *GraphError
	require.ErrorAs(t, err, &graphErr)
	assert.Equal(t, "cyclic", graphErr.ChainID)
	assert.Contains(t, graphErr.Reason, "cycle")
}

func TestTopologicalOrder_UnknownEdgeTarget(t *testing.T) {
	t.Parallel()

	chain := chainWith("c1", []string{"a"}, []Edge{{From: "a", To: "ghost"}})

	_, err := TopologicalOrder(chain)

	var graphErr *GraphError
	require.ErrorAs(t, err, &graphErr)
	assert.Contains(t, graphErr.Reason, "ghost")
}

func TestTopologicalOrder_DuplicateNode(t *testing.T) {
	t.Parallel()

	chain := chainWith("c1", []string{"a", "a"}, nil)

	_, err := TopologicalOrder(chain)

	var graphErr *GraphError
	require.ErrorAs(t, err, &graphErr)
	assert.Contains(t, graphErr.Reason, "duplicate")
}

func TestLevels(t *testing.T) {
	t.Parallel()

	chain := chainWith("c1", []string{"a", "b", "c", "d"}, []Edge{
		{From: "a", To: "b"},
		{From: "a", To: "c"},
		{From: "b", To: "d"},
		{From: "c", To: "d"},
	})

	levels, err := Levels(chain)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, levels)
}
