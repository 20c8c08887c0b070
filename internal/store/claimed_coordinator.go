package store

import (
	"context"

	"github.com/devrev/ringconductor/internal/model"
	"golang.org/x/sync/errgroup"
)

// ClaimedCoordinator serves entity state from one Coordinator and conductor
// claims from a separate ClaimStore
type ClaimedCoordinator struct {
	Coordinator
	claims ClaimStore
}

// WithClaimStore routes conductor claims of entities through claims
func WithClaimStore(entities Coordinator, claims ClaimStore) *ClaimedCoordinator {
	return &ClaimedCoordinator{
		Coordinator: entities,
		claims:      claims,
	}
}

// GetRingGroup reads the entity snapshot and the live claim concurrently
func (c *ClaimedCoordinator) GetRingGroup(ctx context.Context, name string) (*model.RingGroup, error) {
	var group *model.RingGroup
	var mode model.ConductorMode
	var claimed bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		group, err = c.Coordinator.GetRingGroup(gctx, name)
		return err
	})
	g.Go(func() error {
		var err error
		mode, claimed, err = c.claims.Holder(gctx, name)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	group.ConductorMode = mode
	group.ConductorClaimed = claimed
	return group, nil
}

// ClaimConductor claims through the claim store once the ring group is known to exist
func (c *ClaimedCoordinator) ClaimConductor(ctx context.Context, ringGroup string, mode model.ConductorMode) (*model.ConductorClaim, error) {
	if _, err := c.Coordinator.GetRingGroup(ctx, ringGroup); err != nil {
		return nil, err
	}
	return c.claims.Claim(ctx, ringGroup, mode)
}

// ReleaseConductor releases through the claim store
func (c *ClaimedCoordinator) ReleaseConductor(ctx context.Context, claim *model.ConductorClaim) error {
	return c.claims.Release(ctx, claim)
}

// SetConductorMode changes the mode of the live claim
func (c *ClaimedCoordinator) SetConductorMode(ctx context.Context, ringGroup string, mode model.ConductorMode) error {
	return c.claims.SetMode(ctx, ringGroup, mode)
}

// Ping checks both stores concurrently
func (c *ClaimedCoordinator) Ping(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Coordinator.Ping(gctx) })
	g.Go(func() error { return c.claims.Ping(gctx) })
	return g.Wait()
}

// Close closes both stores and returns the first error
func (c *ClaimedCoordinator) Close() error {
	claimErr := c.claims.Close()
	if err := c.Coordinator.Close(); err != nil {
		return err
	}
	return claimErr
}
