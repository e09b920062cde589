// Package workflow defines the authored automation model consumed by the
// decision router and the chain execution engine: chains of action steps
// arranged as a DAG, with optional structured activation conditions and
// input-mapping rules. Chains are authored elsewhere; at execution time they
// are treated as immutable read-only snapshots.
package workflow

// Chain is a named, ordered subgraph of action steps. One trigger event may
// activate zero or more chains.
type Chain struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Condition   *Condition        `json:"condition,omitempty" yaml:"condition,omitempty"`
	Nodes       []Node            `json:"nodes" yaml:"nodes"`
	Edges       []Edge            `json:"edges,omitempty" yaml:"edges,omitempty"`
	InputMap    map[string]string `json:"inputMap,omitempty" yaml:"inputMap,omitempty"`
}

// Node is one action invocation within a chain. Config values may reference
// upstream step outputs with {{steps.<id>.<path>}} tokens and trigger fields
// with {{trigger.<path>}} tokens; resolution happens at execution time.
type Node struct {
	ID         string         `json:"id" yaml:"id"`
	ActionType string         `json:"actionType" yaml:"actionType"`
	Config     map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Edge declares a dependency: To runs only after From has produced output.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// NodeByID returns the node with the given ID, if present.
func (c Chain) NodeByID(id string) (Node, bool) {
	for _, node := range c.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return Node{}, false
}
