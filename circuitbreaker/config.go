package circuitbreaker

import "time"

const (
	defaultFailureThreshold     = 5
	defaultFailureRateThreshold = 0.5
	defaultMinimumRequests      = 10
	defaultSuccessThreshold     = 2
	defaultHalfOpenMaxCalls     = 3
	defaultOpenTimeout          = 30 * time.Second
	defaultWindowSpan           = time.Minute
	defaultWindowLimit          = 128
)

// Config holds circuit breaker tuning.
type Config struct {
	// FailureThreshold trips the breaker after this many failures without
	// an intervening success.
	FailureThreshold uint32
	// FailureRateThreshold trips the breaker when the windowed failure
	// rate reaches this ratio (0..1), once MinimumRequests were seen.
	FailureRateThreshold float64
	// MinimumRequests gates the rate check so a single early failure does
	// not trip an idle breaker.
	MinimumRequests uint32
	// SuccessThreshold closes a half-open breaker after this many
	// consecutive probe successes.
	SuccessThreshold uint32
	// HalfOpenMaxCalls bounds probe calls; exhausting the budget without
	// reaching SuccessThreshold reopens the breaker.
	HalfOpenMaxCalls uint32
	// OpenTimeout is how long the breaker stays open before the next call
	// is allowed to probe.
	OpenTimeout time.Duration
	// WindowSpan is the age limit for outcomes in the sliding window.
	WindowSpan time.Duration
	// WindowLimit bounds how many outcomes the window retains.
	WindowLimit int
}

// DefaultConfig returns the baseline breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:     defaultFailureThreshold,
		FailureRateThreshold: defaultFailureRateThreshold,
		MinimumRequests:      defaultMinimumRequests,
		SuccessThreshold:     defaultSuccessThreshold,
		HalfOpenMaxCalls:     defaultHalfOpenMaxCalls,
		OpenTimeout:          defaultOpenTimeout,
		WindowSpan:           defaultWindowSpan,
		WindowLimit:          defaultWindowLimit,
	}
}

func (cfg *Config) normalize() {
	defaults := DefaultConfig()

	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}

	if cfg.FailureRateThreshold <= 0 || cfg.FailureRateThreshold > 1 {
		cfg.FailureRateThreshold = defaults.FailureRateThreshold
	}

	if cfg.MinimumRequests == 0 {
		cfg.MinimumRequests = defaults.MinimumRequests
	}

	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = defaults.SuccessThreshold
	}

	if cfg.HalfOpenMaxCalls < cfg.SuccessThreshold {
		// The probe budget must at least allow the successes needed to close.
		cfg.HalfOpenMaxCalls = cfg.SuccessThreshold
	}

	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}

	if cfg.WindowSpan <= 0 {
		cfg.WindowSpan = defaults.WindowSpan
	}

	if cfg.WindowLimit <= 0 {
		cfg.WindowLimit = defaults.WindowLimit
	}
}
