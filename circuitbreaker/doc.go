// Package circuitbreaker implements the per-dependency resilience state
// machine that protects every external call made by the execution core.
//
// A Breaker moves between three states. CLOSED lets calls through and
// tallies classified outcomes; it trips to OPEN when failures since the
// last success reach FailureThreshold, or when the failure rate over a
// bounded, time-pruned sliding window reaches FailureRateThreshold (after
// MinimumRequests). OPEN rejects calls immediately with *CircuitOpenError —
// or a registered fallback's result — until OpenTimeout elapses; the next
// call then probes in HALF_OPEN. SuccessThreshold consecutive probe
// successes close the breaker; any probe failure, or exhausting the
// HalfOpenMaxCalls budget, reopens it. No background timer is involved;
// the OPEN to HALF_OPEN transition happens lazily on the next call.
//
// A pluggable Classifier can reclassify an error as success, failure, or
// ignore before it touches any counter.
//
// The Registry owns one breaker per named dependency, exposes aggregate
// health, and republishes state-change and failure events to listeners for
// alerting.
package circuitbreaker
