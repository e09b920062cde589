// Package log defines the structured logging contract shared by every
// component of the execution core. The interface is deliberately small:
// context-aware emission, field attachment, grouping, level gating and
// flushing. Production code wires the zap-backed implementation from the
// zap package; tests and optional dependencies use NewNop.
package log
