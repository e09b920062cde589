// Package router decides which chains a trigger event activates. A chain's
// structured condition is a hard pre-filter evaluated deterministically;
// the decision oracle is a soft filter consulted only for chains whose
// condition passed. Routing is side-effect free with respect to workflow
// state.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nstoddard17/chainreact-core/internal/nilcheck"
	"github.com/nstoddard17/chainreact-core/log"
	"github.com/nstoddard17/chainreact-core/workflow"
)

// ErrDecisionUnavailable is returned when the decision oracle fails or
// times out. No chains run in that case; the router never falls back to
// silently selecting all or none.
var ErrDecisionUnavailable = errors.New("router: decision oracle unavailable")

// ErrOracleRequired is returned when a Router is constructed without an oracle.
var ErrOracleRequired = errors.New("router: decision oracle is required")

const (
	defaultOracleTimeout   = 30 * time.Second
	reasonConditionFailed  = "structured condition evaluated false"
	reasonConditionErrored = "structured condition could not be evaluated"
	reasonNotSelected      = "oracle did not select this chain"
	reasonSelectedDefault  = "oracle selected this chain"
)

// Config tunes router behavior.
type Config struct {
	// OracleTimeout bounds one oracle consultation. On expiry the route
	// call fails with ErrDecisionUnavailable.
	OracleTimeout time.Duration
	// Mode is the execution mode stamped on produced plans.
	Mode ExecutionMode
}

// DefaultConfig returns the baseline router configuration.
func DefaultConfig() Config {
	return Config{
		OracleTimeout: defaultOracleTimeout,
		Mode:          ModeParallel,
	}
}

func (cfg *Config) normalize() {
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = defaultOracleTimeout
	}

	if cfg.Mode != ModeSequential {
		cfg.Mode = ModeParallel
	}
}

// Router classifies candidate chains for a trigger event.
type Router struct {
	oracle DecisionOracle
	logger log.Logger
	cfg    Config
}

// New creates a Router around the given oracle.
func New(oracle DecisionOracle, logger log.Logger, cfg Config) (*Router, error) {
	if nilcheck.Interface(oracle) {
		return nil, ErrOracleRequired
	}

	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	cfg.normalize()

	return &Router{oracle: oracle, logger: logger, cfg: cfg}, nil
}

// RouteOption adjusts a single Route call.
type RouteOption func(*routeSettings)

type routeSettings struct {
	mode ExecutionMode
}

// WithMode overrides the configured execution mode for one route call.
func WithMode(mode ExecutionMode) RouteOption {
	return func(s *routeSettings) {
		if mode == ModeParallel || mode == ModeSequential {
			s.mode = mode
		}
	}
}

// Route classifies every candidate into selected or skipped with a
// non-empty reasoning string. Zero selected chains is a valid, successful
// outcome, distinct from oracle failure.
func (r *Router) Route(ctx context.Context, triggerInput map[string]any, candidates []workflow.Chain, opts ...RouteOption) (*SelectionPlan, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	settings := routeSettings{mode: r.cfg.Mode}

	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	plan := &SelectionPlan{
		TriggerInput:   triggerInput,
		SelectedChains: make([]SelectedChain, 0, len(candidates)),
		SkippedChains:  make([]SkippedChain, 0, len(candidates)),
		Mode:           settings.mode,
	}

	eligible := make([]workflow.Chain, 0, len(candidates))

	for _, chain := range candidates {
		passed, err := chain.Condition.Evaluate(triggerInput)

		switch {
		case err != nil:
			// A broken condition disqualifies only its own chain.
			r.logger.Log(ctx, log.LevelWarn, "chain condition evaluation failed",
				log.String("chain_id", chain.ID), log.Err(err))

			plan.SkippedChains = append(plan.SkippedChains, SkippedChain{
				ChainID:   chain.ID,
				Name:      chain.Name,
				Reasoning: fmt.Sprintf("%s: %v", reasonConditionErrored, err),
			})
		case !passed:
			plan.SkippedChains = append(plan.SkippedChains, SkippedChain{
				ChainID:   chain.ID,
				Name:      chain.Name,
				Reasoning: reasonConditionFailed,
			})
		default:
			eligible = append(eligible, chain)
		}
	}

	if len(eligible) == 0 {
		return plan, nil
	}

	decisions, err := r.consultOracle(ctx, triggerInput, eligible)
	if err != nil {
		return nil, err
	}

	byChainID := make(map[string]ChainDecision, len(decisions))

	for _, decision := range decisions {
		if _, known := byChainID[decision.ChainID]; known {
			continue
		}

		byChainID[decision.ChainID] = decision
	}

	for _, chain := range eligible {
		d, ok := byChainID[chain.ID]
		if !ok || !d.Selected {
			reasoning := reasonNotSelected
			if ok && d.Reasoning != "" {
				reasoning = d.Reasoning
			}

			plan.SkippedChains = append(plan.SkippedChains, SkippedChain{
				ChainID:   chain.ID,
				Name:      chain.Name,
				Reasoning: reasoning,
			})

			continue
		}

		reasoning := d.Reasoning
		if reasoning == "" {
			reasoning = reasonSelectedDefault
		}

		plan.SelectedChains = append(plan.SelectedChains, SelectedChain{
			Chain:      chain,
			Confidence: clampConfidence(d.Confidence),
			Reasoning:  reasoning,
			Inputs:     resolveInputMap(chain, triggerInput),
		})
	}

	r.warnUnknownDecisions(ctx, byChainID, eligible)

	return plan, nil
}

func (r *Router) consultOracle(ctx context.Context, triggerInput map[string]any, eligible []workflow.Chain) ([]ChainDecision, error) {
	summaries := make([]CandidateSummary, 0, len(eligible))
	for _, chain := range eligible {
		summaries = append(summaries, CandidateSummary{
			ChainID:     chain.ID,
			Name:        chain.Name,
			Description: chain.Description,
		})
	}

	oracleCtx, cancel := context.WithTimeout(ctx, r.cfg.OracleTimeout)
	defer cancel()

	type oracleReply struct {
		decisions []ChainDecision
		err       error
	}

	// The deadline must hold even when the oracle implementation ignores
	// its context, so the call runs on its own goroutine. The buffered
	// channel lets an abandoned call finish without leaking.
	replies := make(chan oracleReply, 1)

	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				replies <- oracleReply{err: fmt.Errorf("oracle panic: %v", recovered)}
			}
		}()

		decisions, err := r.oracle.Decide(oracleCtx, DecisionRequest{
			TriggerInput: triggerInput,
			Candidates:   summaries,
		})

		replies <- oracleReply{decisions: decisions, err: err}
	}()

	select {
	case <-oracleCtx.Done():
		return nil, fmt.Errorf("%w: %w", ErrDecisionUnavailable, oracleCtx.Err())
	case reply := <-replies:
		if reply.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecisionUnavailable, reply.err)
		}

		return reply.decisions, nil
	}
}

func (r *Router) warnUnknownDecisions(ctx context.Context, byChainID map[string]ChainDecision, eligible []workflow.Chain) {
	known := make(map[string]struct{}, len(eligible))
	for _, chain := range eligible {
		known[chain.ID] = struct{}{}
	}

	for id := range byChainID {
		if _, ok := known[id]; !ok {
			r.logger.Log(ctx, log.LevelWarn, "oracle referenced unknown chain id; discarding",
				log.String("chain_id", id))
		}
	}
}

// resolveInputMap applies the chain's input-mapping rules against the
// trigger input. Each mapping entry names a target key and the dotted
// trigger path feeding it; unresolvable paths are dropped.
func resolveInputMap(chain workflow.Chain, triggerInput map[string]any) map[string]any {
	if len(chain.InputMap) == 0 {
		return nil
	}

	resolved := make(map[string]any, len(chain.InputMap))

	for key, path := range chain.InputMap {
		if value, ok := workflow.LookupPath(triggerInput, path); ok {
			resolved[key] = value
		}
	}

	return resolved
}

func clampConfidence(confidence float64) float64 {
	switch {
	case confidence < 0:
		return 0
	case confidence > 1:
		return 1
	default:
		return confidence
	}
}
