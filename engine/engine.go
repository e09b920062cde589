// Package engine executes the chains a routing decision selected. Each
// chain runs as an independent unit of work with its own step graph,
// running context, and failure domain; one chain failing never aborts its
// siblings. Action invocations leave through the ActionExecutor port.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nstoddard17/chainreact-core/errgroup"
	"github.com/nstoddard17/chainreact-core/internal/nilcheck"
	"github.com/nstoddard17/chainreact-core/log"
	"github.com/nstoddard17/chainreact-core/router"
	"github.com/nstoddard17/chainreact-core/workflow"
)

// ErrExecutorRequired is returned when an Engine is constructed without an
// action executor.
var ErrExecutorRequired = errors.New("engine: action executor is required")

const defaultStepTimeout = 30 * time.Second

// Config tunes engine behavior.
type Config struct {
	// StepTimeout bounds one action invocation. A timed-out step is a step
	// failure, recorded like any other.
	StepTimeout time.Duration
	// StopOnChainFailure stops a sequential run at the first failed chain.
	// Parallel runs are unaffected; chains there are already in flight.
	StopOnChainFailure bool
	// IntraChainParallel runs independent nodes of one chain concurrently,
	// level by level. Off by default; step order within a level is still
	// deterministic in the recorded results.
	IntraChainParallel bool
}

// DefaultConfig returns the baseline engine configuration.
func DefaultConfig() Config {
	return Config{StepTimeout: defaultStepTimeout}
}

func (cfg *Config) normalize() {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
}

type engineMetrics struct {
	chainsExecuted metric.Int64Counter
	chainsFailed   metric.Int64Counter
	chainDuration  metric.Float64Histogram
}

// Engine runs selection plans.
type Engine struct {
	executor ActionExecutor
	logger   log.Logger
	cfg      Config
	metrics  engineMetrics
	newRunID func() string
}

// Option customizes an Engine at construction.
type Option func(*Engine)

// WithMeterProvider enables execution metrics on the given provider.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(e *Engine) {
		if nilcheck.Interface(provider) {
			return
		}

		meter := provider.Meter("chainreact.engine")

		if counter, err := meter.Int64Counter("engine.chains_executed"); err == nil {
			e.metrics.chainsExecuted = counter
		}

		if counter, err := meter.Int64Counter("engine.chains_failed"); err == nil {
			e.metrics.chainsFailed = counter
		}

		if histogram, err := meter.Float64Histogram("engine.chain_duration_ms"); err == nil {
			e.metrics.chainDuration = histogram
		}
	}
}

// New creates an Engine around the given executor.
func New(executor ActionExecutor, logger log.Logger, cfg Config, opts ...Option) (*Engine, error) {
	if nilcheck.Interface(executor) {
		return nil, ErrExecutorRequired
	}

	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	cfg.normalize()

	engine := &Engine{
		executor: executor,
		logger:   logger,
		cfg:      cfg,
		newRunID: uuid.NewString,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}

	return engine, nil
}

// ExecuteChains runs every selected chain in the plan and returns one
// result per chain. Action failures, invalid graphs, and chain panics are
// recorded in the results; the returned error is reserved for problems in
// the engine itself.
func (e *Engine) ExecuteChains(ctx context.Context, plan *router.SelectionPlan) ([]ExecutionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if plan == nil || len(plan.SelectedChains) == 0 {
		return nil, nil
	}

	if plan.Mode == router.ModeSequential {
		return e.executeSequential(ctx, plan), nil
	}

	return e.executeParallel(ctx, plan), nil
}

func (e *Engine) executeParallel(ctx context.Context, plan *router.SelectionPlan) []ExecutionResult {
	results := make([]ExecutionResult, len(plan.SelectedChains))

	var wg sync.WaitGroup

	for i, selected := range plan.SelectedChains {
		wg.Add(1)

		go func(i int, selected router.SelectedChain) {
			defer wg.Done()

			results[i] = e.runChain(ctx, plan, selected)
		}(i, selected)
	}

	wg.Wait()

	return results
}

func (e *Engine) executeSequential(ctx context.Context, plan *router.SelectionPlan) []ExecutionResult {
	results := make([]ExecutionResult, 0, len(plan.SelectedChains))

	for _, selected := range plan.SelectedChains {
		result := e.runChain(ctx, plan, selected)
		results = append(results, result)

		if result.Failed() && e.cfg.StopOnChainFailure {
			break
		}
	}

	return results
}

// runChain is the chain failure boundary: a panic anywhere below it becomes
// a failed ExecutionResult instead of taking down sibling chains.
func (e *Engine) runChain(ctx context.Context, plan *router.SelectionPlan, selected router.SelectedChain) (result ExecutionResult) {
	started := time.Now()

	result = ExecutionResult{
		RunID:     e.newRunID(),
		ChainID:   selected.Chain.ID,
		ChainName: selected.Chain.Name,
		Status:    ChainCompleted,
		StartedAt: started,
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.Log(ctx, log.LevelError, "chain execution panicked",
				log.String("chain_id", selected.Chain.ID), log.Any("panic", recovered))

			result.Status = ChainFailed
			result.Error = fmt.Sprintf("panic: %v", recovered)
		}

		result.Duration = time.Since(started)
		e.recordChainMetrics(ctx, result)
	}()

	scope := tokenScope{
		trigger: plan.TriggerInput,
		inputs:  selected.Inputs,
		steps:   make(map[string]map[string]any, len(selected.Chain.Nodes)),
	}

	if e.cfg.IntraChainParallel {
		e.runLevels(ctx, selected.Chain, scope, &result)
	} else {
		e.runOrdered(ctx, selected.Chain, scope, &result)
	}

	return result
}

func (e *Engine) runOrdered(ctx context.Context, chain workflow.Chain, scope tokenScope, result *ExecutionResult) {
	order, err := workflow.TopologicalOrder(chain)
	if err != nil {
		result.Status = ChainFailed
		result.Error = err.Error()

		return
	}

	for _, nodeID := range order {
		node, _ := chain.NodeByID(nodeID)

		step := e.runStep(ctx, node, scope)
		result.Steps = append(result.Steps, step)

		if step.Status == StepFailed {
			result.Status = ChainFailed
			result.Error = fmt.Sprintf("step %s failed: %s", step.NodeID, step.Error)

			return
		}

		scope.steps[node.ID] = step.Output
	}
}

// runLevels executes one dependency level at a time; nodes within a level
// are independent and run concurrently. A failure finishes its level, then
// aborts the chain.
func (e *Engine) runLevels(ctx context.Context, chain workflow.Chain, scope tokenScope, result *ExecutionResult) {
	levels, err := workflow.Levels(chain)
	if err != nil {
		result.Status = ChainFailed
		result.Error = err.Error()

		return
	}

	for _, level := range levels {
		steps := make([]StepResult, len(level))

		group, groupCtx := errgroup.WithContext(ctx, errgroup.WithLogger(e.logger))

		for i, nodeID := range level {
			node, _ := chain.NodeByID(nodeID)

			group.Go(func() error {
				steps[i] = e.runStep(groupCtx, node, scope)
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			result.Status = ChainFailed
			result.Error = err.Error()

			return
		}

		failed := ""

		for _, step := range steps {
			result.Steps = append(result.Steps, step)

			if step.Status == StepFailed {
				if failed == "" {
					failed = fmt.Sprintf("step %s failed: %s", step.NodeID, step.Error)
				}

				continue
			}

			scope.steps[step.NodeID] = step.Output
		}

		if failed != "" {
			result.Status = ChainFailed
			result.Error = failed

			return
		}
	}
}

func (e *Engine) runStep(ctx context.Context, node workflow.Node, scope tokenScope) StepResult {
	started := time.Now()

	step := StepResult{
		NodeID:     node.ID,
		ActionType: node.ActionType,
		StartedAt:  started,
	}

	config, err := resolveConfig(node.ID, node.Config, scope)
	if err != nil {
		step.Status = StepFailed
		step.Error = err.Error()
		step.Duration = time.Since(started)

		return step
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	result, err := e.executor.Execute(stepCtx, node.ActionType, config)

	step.Duration = time.Since(started)

	if err != nil {
		step.Status = StepFailed
		step.Error = err.Error()

		e.logger.Log(ctx, log.LevelWarn, "step execution failed",
			log.String("node_id", node.ID), log.String("action_type", node.ActionType), log.Err(err))

		return step
	}

	step.Status = StepCompleted
	if result != nil {
		step.Output = result.Output
	}

	return step
}

func (e *Engine) recordChainMetrics(ctx context.Context, result ExecutionResult) {
	attrs := metric.WithAttributes(attribute.String("chain_id", result.ChainID))

	if e.metrics.chainsExecuted != nil {
		e.metrics.chainsExecuted.Add(ctx, 1, attrs)
	}

	if result.Failed() && e.metrics.chainsFailed != nil {
		e.metrics.chainsFailed.Add(ctx, 1, attrs)
	}

	if e.metrics.chainDuration != nil {
		e.metrics.chainDuration.Record(ctx, float64(result.Duration)/float64(time.Millisecond), attrs)
	}
}
