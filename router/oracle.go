package router

import "context"

// DecisionOracle is the pluggable semantic-matching service consulted by
// the router. Implementations are expected to be non-deterministic external
// dependencies (typically model-backed); the router never trusts them for
// anything beyond soft filtering of condition-passing candidates.
type DecisionOracle interface {
	Decide(ctx context.Context, request DecisionRequest) ([]ChainDecision, error)
}

// DecisionRequest is the structured prompt handed to the oracle: the
// trigger input plus a digest of every candidate that survived the
// condition pre-filter.
type DecisionRequest struct {
	TriggerInput map[string]any     `json:"triggerInput"`
	Candidates   []CandidateSummary `json:"candidates"`
}

// CandidateSummary is the oracle-facing digest of one chain.
type CandidateSummary struct {
	ChainID     string `json:"chainId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ChainDecision is one oracle verdict. Decisions referencing chain IDs the
// router never offered are discarded; candidates the oracle stays silent on
// are skipped.
type ChainDecision struct {
	ChainID    string  `json:"chainId"`
	Selected   bool    `json:"selected"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}
