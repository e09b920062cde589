package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nstoddard17/chainreact-core/cache"
	"github.com/nstoddard17/chainreact-core/internal/nilcheck"
	"github.com/nstoddard17/chainreact-core/log"
	"github.com/nstoddard17/chainreact-core/runtime"
)

const healthCacheKey = "aggregate"

// HealthStatus aggregates breaker states across the registry: healthy
// breakers are closed, degraded ones are probing, failed ones are open.
type HealthStatus struct {
	Healthy  int
	Degraded int
	Failed   int
}

// Registry owns one breaker per named dependency, aggregates health, and
// republishes state-change and failure events for alerting.
type Registry struct {
	logger     log.Logger
	defaultCfg Config

	mu               sync.RWMutex
	breakers         map[string]*Breaker
	configs          map[string]Config
	stateListeners   []StateChangeListener
	failureListeners []FailureListener

	healthCache *cache.TTL[string, HealthStatus]

	transitions metric.Int64Counter
}

// RegistryOption customizes a registry at construction.
type RegistryOption func(*Registry)

// WithDefaultConfig sets the config used when Execute auto-creates a breaker.
func WithDefaultConfig(cfg Config) RegistryOption {
	return func(r *Registry) {
		cfg.normalize()
		r.defaultCfg = cfg
	}
}

// WithHealthCacheTTL overrides how long aggregate health snapshots are cached.
func WithHealthCacheTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.healthCache = cache.NewTTL[string, HealthStatus](ttl)
	}
}

// WithMeterProvider enables the state-transition counter on the given provider.
func WithMeterProvider(provider metric.MeterProvider) RegistryOption {
	return func(r *Registry) {
		if nilcheck.Interface(provider) {
			return
		}

		meter := provider.Meter("chainreact.circuitbreaker")

		counter, err := meter.Int64Counter("circuitbreaker.state_transitions")
		if err == nil {
			r.transitions = counter
		}
	}
}

// NewRegistry creates an empty circuit breaker registry.
func NewRegistry(logger log.Logger, opts ...RegistryOption) *Registry {
	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	registry := &Registry{
		logger:      logger,
		defaultCfg:  DefaultConfig(),
		breakers:    make(map[string]*Breaker),
		configs:     make(map[string]Config),
		healthCache: cache.NewTTL[string, HealthStatus](time.Second),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}

	return registry
}

// GetOrCreate returns the existing breaker for name or creates a new one
// with the given configuration and options.
func (r *Registry) GetOrCreate(name string, cfg Config, opts ...BreakerOption) *Breaker {
	r.mu.RLock()
	breaker, exists := r.breakers[name]
	r.mu.RUnlock()

	if exists {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock.
	if breaker, exists = r.breakers[name]; exists {
		return breaker
	}

	breaker = New(name, cfg, opts...)
	breaker.onStateChange = r.handleStateChange
	breaker.onFailure = r.handleFailure

	r.breakers[name] = breaker
	r.configs[name] = cfg
	r.healthCache.Invalidate(healthCacheKey)

	r.logger.Log(context.Background(), log.LevelInfo, "created circuit breaker",
		log.String("dependency", name))

	return breaker
}

// Execute runs fn through the breaker named name, creating it with the
// registry's default configuration when absent.
func (r *Registry) Execute(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	return r.GetOrCreate(name, r.defaultCfg).Call(ctx, fn)
}

// GetState returns the current state of the named breaker.
func (r *Registry) GetState(name string) State {
	r.mu.RLock()
	breaker, exists := r.breakers[name]
	r.mu.RUnlock()

	if !exists {
		return StateUnknown
	}

	return breaker.State()
}

// IsHealthy reports whether the named breaker is closed. Open and half-open
// breakers both count as unhealthy until fully recovered.
func (r *Registry) IsHealthy(name string) bool {
	return r.GetState(name) == StateClosed
}

// GetStats returns snapshots for every registered breaker.
func (r *Registry) GetStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for name, breaker := range r.breakers {
		stats[name] = breaker.Stats()
	}

	return stats
}

// GetHealthStatus returns the state of every registered breaker by name.
func (r *Registry) GetHealthStatus() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[string]State, len(r.breakers))
	for name, breaker := range r.breakers {
		status[name] = breaker.State()
	}

	return status
}

// Health aggregates breaker states. The result is cached briefly so hot
// admin or readiness endpoints do not contend with call bookkeeping.
func (r *Registry) Health() HealthStatus {
	if cached, ok := r.healthCache.Get(healthCacheKey); ok {
		return cached
	}

	r.mu.RLock()

	var health HealthStatus

	for _, breaker := range r.breakers {
		switch breaker.State() {
		case StateClosed:
			health.Healthy++
		case StateHalfOpen:
			health.Degraded++
		case StateOpen:
			health.Failed++
		}
	}

	r.mu.RUnlock()

	r.healthCache.Set(healthCacheKey, health)

	return health
}

// Reset forces the named breaker back to closed.
func (r *Registry) Reset(name string) {
	r.mu.RLock()
	breaker, exists := r.breakers[name]
	r.mu.RUnlock()

	if !exists {
		return
	}

	r.logger.Log(context.Background(), log.LevelInfo, "resetting circuit breaker",
		log.String("dependency", name))

	breaker.Reset()
}

// RegisterStateChangeListener registers a listener for state change events.
func (r *Registry) RegisterStateChangeListener(listener StateChangeListener) {
	if nilcheck.Interface(listener) {
		r.logger.Log(context.Background(), log.LevelWarn, "ignoring nil state change listener")

		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stateListeners = append(r.stateListeners, listener)
}

// RegisterFailureListener registers a listener for failure events.
func (r *Registry) RegisterFailureListener(listener FailureListener) {
	if nilcheck.Interface(listener) {
		r.logger.Log(context.Background(), log.LevelWarn, "ignoring nil failure listener")

		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.failureListeners = append(r.failureListeners, listener)
}

// handleStateChange logs the transition, invalidates the cached aggregate,
// and notifies listeners. Listener callbacks run on their own goroutines
// with panic recovery so alerting code cannot block or crash breaker
// bookkeeping.
func (r *Registry) handleStateChange(name string, from, to State) {
	ctx := context.Background()

	level := log.LevelInfo
	if to == StateOpen {
		level = log.LevelError
	}

	r.logger.Log(ctx, level, "circuit breaker state changed",
		log.String("dependency", name),
		log.String("from", string(from)),
		log.String("to", string(to)),
	)

	r.healthCache.Invalidate(healthCacheKey)

	if r.transitions != nil {
		r.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("dependency", name),
			attribute.String("to", string(to)),
		))
	}

	r.mu.RLock()
	listeners := make([]StateChangeListener, len(r.stateListeners))
	copy(listeners, r.stateListeners)
	r.mu.RUnlock()

	for _, listener := range listeners {
		listener := listener

		runtime.SafeGo(r.logger, "circuitbreaker.state_change_listener", runtime.KeepRunning, func() {
			listener.OnStateChange(name, from, to)
		})
	}
}

func (r *Registry) handleFailure(name string, err error) {
	r.mu.RLock()
	listeners := make([]FailureListener, len(r.failureListeners))
	copy(listeners, r.failureListeners)
	r.mu.RUnlock()

	for _, listener := range listeners {
		listener := listener

		runtime.SafeGo(r.logger, "circuitbreaker.failure_listener", runtime.KeepRunning, func() {
			listener.OnFailure(name, err)
		})
	}
}
