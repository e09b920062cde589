// Package config loads the execution core's configuration from YAML with
// CHAINREACT_-prefixed environment overrides. Zero values normalize to the
// owning component's defaults, so a partial file is always valid.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nstoddard17/chainreact-core/circuitbreaker"
	"github.com/nstoddard17/chainreact-core/cron"
	"github.com/nstoddard17/chainreact-core/engine"
	"github.com/nstoddard17/chainreact-core/log"
	"github.com/nstoddard17/chainreact-core/refresh"
	"github.com/nstoddard17/chainreact-core/retry"
	"github.com/nstoddard17/chainreact-core/router"
)

// EnvPrefix is prepended to every environment override key.
const EnvPrefix = "CHAINREACT_"

// Duration decodes YAML strings like "30s" or "5m" through
// time.ParseDuration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", node.Value, err)
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Logging configures the zap-backed logger.
type Logging struct {
	Environment string `yaml:"environment"`
	Level       string `yaml:"level"`
}

// Router configures the decision router.
type Router struct {
	OracleTimeout Duration `yaml:"oracleTimeout"`
	Mode          string   `yaml:"mode"`
}

// Engine configures the chain execution engine.
type Engine struct {
	StepTimeout        Duration `yaml:"stepTimeout"`
	StopOnChainFailure bool     `yaml:"stopOnChainFailure"`
	IntraChainParallel bool     `yaml:"intraChainParallel"`
}

// Breaker configures the default circuit breaker profile.
type Breaker struct {
	FailureThreshold     int      `yaml:"failureThreshold"`
	FailureRateThreshold float64  `yaml:"failureRateThreshold"`
	MinimumRequests      int      `yaml:"minimumRequests"`
	SuccessThreshold     int      `yaml:"successThreshold"`
	HalfOpenMaxCalls     int      `yaml:"halfOpenMaxCalls"`
	OpenTimeout          Duration `yaml:"openTimeout"`
	WindowSpan           Duration `yaml:"windowSpan"`
	WindowLimit          int      `yaml:"windowLimit"`
}

// Refresh configures the credential refresh scheduler.
type Refresh struct {
	RecoveryWindow Duration `yaml:"recoveryWindow"`
	BatchSize      int      `yaml:"batchSize"`
	BatchPause     Duration `yaml:"batchPause"`
	Interval       Duration `yaml:"interval"`
	Cron           string   `yaml:"cron"`
	MaxAttempts    int      `yaml:"maxAttempts"`
	MaxRunErrors   int      `yaml:"maxRunErrors"`
}

// Config is the whole core's configuration.
type Config struct {
	Logging Logging `yaml:"logging"`
	Router  Router  `yaml:"router"`
	Engine  Engine  `yaml:"engine"`
	Breaker Breaker `yaml:"breaker"`
	Refresh Refresh `yaml:"refresh"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() Config {
	return Config{
		Logging: Logging{Environment: "production", Level: "info"},
		Router:  Router{Mode: string(router.ModeParallel)},
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. A missing path yields defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Parse decodes raw YAML, applies environment overrides, and validates.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	envString("LOG_ENVIRONMENT", &c.Logging.Environment)
	envString("LOG_LEVEL", &c.Logging.Level)

	envDuration("ROUTER_ORACLE_TIMEOUT", &c.Router.OracleTimeout)
	envString("ROUTER_MODE", &c.Router.Mode)

	envDuration("ENGINE_STEP_TIMEOUT", &c.Engine.StepTimeout)
	envBool("ENGINE_STOP_ON_CHAIN_FAILURE", &c.Engine.StopOnChainFailure)
	envBool("ENGINE_INTRA_CHAIN_PARALLEL", &c.Engine.IntraChainParallel)

	envInt("BREAKER_FAILURE_THRESHOLD", &c.Breaker.FailureThreshold)
	envFloat("BREAKER_FAILURE_RATE_THRESHOLD", &c.Breaker.FailureRateThreshold)
	envInt("BREAKER_MINIMUM_REQUESTS", &c.Breaker.MinimumRequests)
	envInt("BREAKER_SUCCESS_THRESHOLD", &c.Breaker.SuccessThreshold)
	envInt("BREAKER_HALF_OPEN_MAX_CALLS", &c.Breaker.HalfOpenMaxCalls)
	envDuration("BREAKER_OPEN_TIMEOUT", &c.Breaker.OpenTimeout)

	envDuration("REFRESH_RECOVERY_WINDOW", &c.Refresh.RecoveryWindow)
	envInt("REFRESH_BATCH_SIZE", &c.Refresh.BatchSize)
	envDuration("REFRESH_BATCH_PAUSE", &c.Refresh.BatchPause)
	envDuration("REFRESH_INTERVAL", &c.Refresh.Interval)
	envString("REFRESH_CRON", &c.Refresh.Cron)
	envInt("REFRESH_MAX_ATTEMPTS", &c.Refresh.MaxAttempts)
}

// Validate rejects values that cannot normalize into something sensible.
func (c *Config) Validate() error {
	if c.Logging.Level != "" {
		if _, err := log.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("config: invalid log level %q: %w", c.Logging.Level, err)
		}
	}

	switch router.ExecutionMode(c.Router.Mode) {
	case router.ModeParallel, router.ModeSequential, "":
	default:
		return fmt.Errorf("config: invalid router mode %q", c.Router.Mode)
	}

	if c.Breaker.FailureRateThreshold < 0 || c.Breaker.FailureRateThreshold > 1 {
		return fmt.Errorf("config: breaker failure rate threshold %v outside [0,1]", c.Breaker.FailureRateThreshold)
	}

	for name, value := range map[string]int{
		"breaker failure threshold": c.Breaker.FailureThreshold,
		"breaker minimum requests":  c.Breaker.MinimumRequests,
		"breaker success threshold": c.Breaker.SuccessThreshold,
		"refresh batch size":        c.Refresh.BatchSize,
		"refresh max attempts":      c.Refresh.MaxAttempts,
	} {
		if value < 0 {
			return fmt.Errorf("config: %s must not be negative, got %d", name, value)
		}
	}

	if c.Refresh.Cron != "" {
		if _, err := cron.Parse(c.Refresh.Cron); err != nil {
			return fmt.Errorf("config: invalid refresh cron expression: %w", err)
		}
	}

	return nil
}

// RouterConfig converts to the router package's configuration.
func (c *Config) RouterConfig() router.Config {
	return router.Config{
		OracleTimeout: c.Router.OracleTimeout.Std(),
		Mode:          router.ExecutionMode(c.Router.Mode),
	}
}

// EngineConfig converts to the engine package's configuration.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		StepTimeout:        c.Engine.StepTimeout.Std(),
		StopOnChainFailure: c.Engine.StopOnChainFailure,
		IntraChainParallel: c.Engine.IntraChainParallel,
	}
}

// BreakerConfig converts to the circuitbreaker package's configuration.
func (c *Config) BreakerConfig() circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold:     uint32(max(c.Breaker.FailureThreshold, 0)),
		FailureRateThreshold: c.Breaker.FailureRateThreshold,
		MinimumRequests:      uint32(max(c.Breaker.MinimumRequests, 0)),
		SuccessThreshold:     uint32(max(c.Breaker.SuccessThreshold, 0)),
		HalfOpenMaxCalls:     uint32(max(c.Breaker.HalfOpenMaxCalls, 0)),
		OpenTimeout:          c.Breaker.OpenTimeout.Std(),
		WindowSpan:           c.Breaker.WindowSpan.Std(),
		WindowLimit:          c.Breaker.WindowLimit,
	}
}

// RefreshConfig converts to the refresh package's configuration. Unset
// knobs keep the scheduler defaults; an explicit zero batch pause disables
// the pause.
func (c *Config) RefreshConfig() refresh.Config {
	cfg := refresh.DefaultConfig()

	if c.Refresh.RecoveryWindow > 0 {
		cfg.RecoveryWindow = c.Refresh.RecoveryWindow.Std()
	}

	if c.Refresh.BatchSize > 0 {
		cfg.BatchSize = c.Refresh.BatchSize
	}

	if c.Refresh.BatchPause > 0 {
		cfg.BatchPause = c.Refresh.BatchPause.Std()
	}

	if c.Refresh.Interval > 0 {
		cfg.Interval = c.Refresh.Interval.Std()
	}

	if c.Refresh.MaxAttempts > 0 {
		cfg.Retry = retry.Policy{MaxAttempts: c.Refresh.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay}
	}

	if c.Refresh.MaxRunErrors > 0 {
		cfg.MaxRunErrors = c.Refresh.MaxRunErrors
	}

	cfg.CronExpr = c.Refresh.Cron

	return cfg
}

func envString(key string, target *string) {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok {
		*target = value
	}
}

func envDuration(key string, target *Duration) {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return
	}

	if parsed, err := time.ParseDuration(value); err == nil {
		*target = Duration(parsed)
	}
}

func envInt(key string, target *int) {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return
	}

	if parsed, err := strconv.Atoi(value); err == nil {
		*target = parsed
	}
}

func envFloat(key string, target *float64) {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return
	}

	if parsed, err := strconv.ParseFloat(value, 64); err == nil {
		*target = parsed
	}
}

func envBool(key string, target *bool) {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return
	}

	if parsed, err := strconv.ParseBool(value); err == nil {
		*target = parsed
	}
}
