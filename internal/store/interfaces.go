package store

import (
	"context"
	"errors"

	"github.com/devrev/ringconductor/internal/model"
)

// ErrNotFound is returned when a ring group, ring or host does not exist
var ErrNotFound = errors.New("not found")

// ErrConductorClaimed is returned when another process already holds the
// conductor claim for a ring group
var ErrConductorClaimed = errors.New("conductor already claimed")

// ErrClaimNotHeld is returned when releasing a claim the store no longer
// associates with the caller
var ErrClaimNotHeld = errors.New("conductor claim not held")

// ErrClaimLost is returned when a held claim expires or is taken over before
// its holder released it
var ErrClaimLost = errors.New("conductor claim lost")

// Coordinator is the cluster state store consumed by the conductor
type Coordinator interface {
	// Ring group snapshots
	GetRingGroup(ctx context.Context, name string) (*model.RingGroup, error)

	// Conductor claim
	ClaimConductor(ctx context.Context, ringGroup string, mode model.ConductorMode) (*model.ConductorClaim, error)
	ReleaseConductor(ctx context.Context, claim *model.ConductorClaim) error

	// Entity mutators
	SetRingState(ctx context.Context, ringGroup string, ring int, state model.RingState) error
	EnqueueCommand(ctx context.Context, ringGroup string, ring int, host string, cmd model.HostCommand) error
	MarkRingUpdateComplete(ctx context.Context, ringGroup string, ring int) error
	MarkRingGroupUpdateComplete(ctx context.Context, ringGroup string) error

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// Admin covers the administrative operations that create ring groups and
// start updates. Hosts report their own state through SetHostState,
// SetHostDomainVersion and DequeueCommand.
type Admin interface {
	AddRingGroup(ctx context.Context, name string) error
	AddRing(ctx context.Context, ringGroup string) (int, error)
	AddHost(ctx context.Context, ringGroup string, ring int, address string) error
	AddDomainGroupVersion(ctx context.Context, ringGroup string, version *model.DomainGroupVersion) error
	StartUpdate(ctx context.Context, ringGroup string, version int) error
	SetConductorMode(ctx context.Context, ringGroup string, mode model.ConductorMode) error
	SetHostState(ctx context.Context, ringGroup string, ring int, host string, state model.HostState) error
	SetHostDomainVersion(ctx context.Context, ringGroup string, ring int, host, domain string, version int) error
	DequeueCommand(ctx context.Context, ringGroup string, ring int, host string) (model.HostCommand, bool, error)
}

// ClaimStore arbitrates the conductor claim independently of entity storage
type ClaimStore interface {
	Claim(ctx context.Context, ringGroup string, mode model.ConductorMode) (*model.ConductorClaim, error)
	Release(ctx context.Context, claim *model.ConductorClaim) error
	// Holder returns the mode of the live claim, or ok=false when unclaimed
	Holder(ctx context.Context, ringGroup string) (mode model.ConductorMode, ok bool, err error)
	SetMode(ctx context.Context, ringGroup string, mode model.ConductorMode) error
	Ping(ctx context.Context) error
	Close() error
}
