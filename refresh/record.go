// Package refresh keeps stored provider credentials alive. A scheduler
// periodically scans records needing attention and refreshes them through
// per-provider refreshers, each call guarded by that provider's circuit
// breaker. Persistence and provider I/O enter through the CredentialStore
// and Refresher ports.
package refresh

import (
	"context"
	"time"
)

// Status is a credential's lifecycle state. A record only returns to
// StatusConnected through a successful refresh.
type Status string

const (
	// StatusConnected means the credential is usable.
	StatusConnected Status = "connected"
	// StatusDisconnected means refreshes are failing but recovery is still
	// being attempted.
	StatusDisconnected Status = "disconnected"
	// StatusNeedsReauthorization means automatic recovery is impossible;
	// the owner must re-authorize the provider.
	StatusNeedsReauthorization Status = "needsReauthorization"
	// StatusExpired means the credential's lifetime ran out.
	StatusExpired Status = "expired"
)

// CredentialRecord is one stored provider authorization. Only the refresh
// scheduler mutates it.
type CredentialRecord struct {
	ID                  string
	Provider            string
	Owner               string
	Secrets             map[string]string
	Status              Status
	HasRefreshToken     bool
	ConsecutiveFailures int
	LastRefreshAt       time.Time
	ExpiresAt           time.Time
	DisconnectedAt      time.Time
}

// Degraded reports whether the record is in any state other than connected.
func (r CredentialRecord) Degraded() bool {
	return r.Status != StatusConnected
}

// CredentialStore is the persistence port. ListNeedingAttention returns
// records that are near expiry or degraded; the backing query is out of
// scope here.
type CredentialStore interface {
	ListNeedingAttention(ctx context.Context) ([]CredentialRecord, error)
	UpdateStatus(ctx context.Context, record CredentialRecord) error
}

// RefreshOutcome carries the renewed secrets and expiry from a successful
// provider refresh.
type RefreshOutcome struct {
	Secrets   map[string]string
	ExpiresAt time.Time
}

// Refresher renews one provider's credentials. One Refresher is registered
// per provider name; calls are routed through that provider's circuit
// breaker.
type Refresher interface {
	Refresh(ctx context.Context, record CredentialRecord) (*RefreshOutcome, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, record CredentialRecord) (*RefreshOutcome, error)

// Refresh implements Refresher.
func (fn RefresherFunc) Refresh(ctx context.Context, record CredentialRecord) (*RefreshOutcome, error) {
	return fn(ctx, record)
}
