package workflow

import (
	"fmt"
	"sort"
)

// GraphError reports a malformed step graph. It is always scoped to a single
// chain; one chain's bad graph never affects another chain's execution.
type GraphError struct {
	ChainID string
	Reason  string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("chain %s: invalid step graph: %s", e.ChainID, e.Reason)
}

// TopologicalOrder returns the chain's node IDs in dependency order using
// Kahn's algorithm. Nodes with equal depth are ordered by their declaration
// order in the chain so results are deterministic. Returns a *GraphError
// when an edge references an unknown node or the graph contains a cycle.
func TopologicalOrder(chain Chain) ([]string, error) {
	indegree := make(map[string]int, len(chain.Nodes))
	position := make(map[string]int, len(chain.Nodes))

	for i, node := range chain.Nodes {
		if _, dup := position[node.ID]; dup {
			return nil, &GraphError{ChainID: chain.ID, Reason: fmt.Sprintf("duplicate node id %q", node.ID)}
		}

		indegree[node.ID] = 0
		position[node.ID] = i
	}

	successors := make(map[string][]string, len(chain.Nodes))

	for _, edge := range chain.Edges {
		if _, ok := position[edge.From]; !ok {
			return nil, &GraphError{ChainID: chain.ID, Reason: fmt.Sprintf("edge references unknown node %q", edge.From)}
		}

		if _, ok := position[edge.To]; !ok {
			return nil, &GraphError{ChainID: chain.ID, Reason: fmt.Sprintf("edge references unknown node %q", edge.To)}
		}

		successors[edge.From] = append(successors[edge.From], edge.To)
		indegree[edge.To]++
	}

	ready := make([]string, 0, len(chain.Nodes))
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	sortByPosition(ready, position)

	order := make([]string, 0, len(chain.Nodes))

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := make([]string, 0, len(successors[id]))

		for _, next := range successors[id] {
			indegree[next]--
			if indegree[next] == 0 {
				released = append(released, next)
			}
		}

		sortByPosition(released, position)
		ready = append(ready, released...)
	}

	if len(order) != len(chain.Nodes) {
		return nil, &GraphError{ChainID: chain.ID, Reason: "cycle detected"}
	}

	return order, nil
}

// Levels groups node IDs into dependency levels: every node in level N only
// depends on nodes in levels < N. Nodes within one level are independent of
// each other and may execute concurrently.
func Levels(chain Chain) ([][]string, error) {
	order, err := TopologicalOrder(chain)
	if err != nil {
		return nil, err
	}

	predecessors := make(map[string][]string, len(chain.Nodes))
	for _, edge := range chain.Edges {
		predecessors[edge.To] = append(predecessors[edge.To], edge.From)
	}

	depth := make(map[string]int, len(chain.Nodes))
	maxDepth := 0

	for _, id := range order {
		d := 0

		for _, pred := range predecessors[id] {
			if depth[pred]+1 > d {
				d = depth[pred] + 1
			}
		}

		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	for _, id := range order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}

	return levels, nil
}

func sortByPosition(ids []string, position map[string]int) {
	sort.Slice(ids, func(i, j int) bool {
		return position[ids[i]] < position[ids[j]]
	})
}
