package engine

import "time"

// ChainStatus is the terminal status of one chain execution.
type ChainStatus string

const (
	// ChainCompleted means every step in the chain finished successfully.
	ChainCompleted ChainStatus = "completed"
	// ChainFailed means a step failed, the graph was invalid, or the chain
	// goroutine panicked; prior step results are retained.
	ChainFailed ChainStatus = "failed"
)

// StepStatus is the terminal status of one step execution.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepResult records one step invocation: the resolved action call, its
// output on success or its error on failure.
type StepResult struct {
	NodeID     string
	ActionType string
	Status     StepStatus
	Output     map[string]any
	Error      string
	StartedAt  time.Time
	Duration   time.Duration
}

// ExecutionResult is the complete record of one chain execution. A failed
// chain still carries the results of every step that ran before the failure.
type ExecutionResult struct {
	RunID     string
	ChainID   string
	ChainName string
	Status    ChainStatus
	Steps     []StepResult
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// Failed reports whether the chain ended in failure.
func (r ExecutionResult) Failed() bool {
	return r.Status == ChainFailed
}

// StepByNodeID returns the recorded result for the given node, if it ran.
func (r ExecutionResult) StepByNodeID(nodeID string) (StepResult, bool) {
	for _, step := range r.Steps {
		if step.NodeID == nodeID {
			return step, true
		}
	}

	return StepResult{}, false
}
