package router

import "github.com/nstoddard17/chainreact-core/workflow"

// ExecutionMode controls how the engine runs the selected chains.
type ExecutionMode string

const (
	// ModeParallel runs selected chains as independent concurrent units.
	ModeParallel ExecutionMode = "parallel"
	// ModeSequential runs selected chains in selection order.
	ModeSequential ExecutionMode = "sequential"
)

// SelectionPlan is the router's output for one trigger event: which chains
// run, which do not, and why. Selected and skipped chains partition the
// candidate set exactly. The plan is ephemeral; it carries immutable chain
// snapshots so later edits to a chain cannot leak into an in-flight run.
type SelectionPlan struct {
	TriggerInput   map[string]any
	SelectedChains []SelectedChain
	SkippedChains  []SkippedChain
	Mode           ExecutionMode
}

// SelectedChain pairs a chain snapshot with the oracle's verdict and the
// trigger fields resolved through the chain's input-mapping rules.
type SelectedChain struct {
	Chain      workflow.Chain
	Confidence float64
	Reasoning  string
	Inputs     map[string]any
}

// SkippedChain records why a candidate was not run.
type SkippedChain struct {
	ChainID   string
	Name      string
	Reasoning string
}
