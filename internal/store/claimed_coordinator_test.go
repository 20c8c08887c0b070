package store

import (
	"context"
	"errors"
	"testing"

	"github.com/devrev/ringconductor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// failingClaims wraps a ClaimStore and fails Ping and Close
type failingClaims struct {
	ClaimStore
	err error
}

func (f failingClaims) Ping(ctx context.Context) error { return f.err }
func (f failingClaims) Close() error                   { return f.err }

func TestClaimedCoordinator_ConductorClaims(t *testing.T) {
	entities := NewMemoryStore(zap.NewNop())
	claims := NewMemoryStore(zap.NewNop())
	composite := WithClaimStore(entities, claims)

	testConductorClaims(t, composite, adminOver(entities, composite))
}

func TestClaimedCoordinator_ClaimsLiveOutsideEntityStore(t *testing.T) {
	ctx := context.Background()
	entities := NewMemoryStore(nil)
	claims := NewMemoryStore(nil)
	composite := WithClaimStore(entities, claims)
	require.NoError(t, entities.AddRingGroup(ctx, "search"))

	claim, err := composite.ClaimConductor(ctx, "search", model.ConductorModeProactive)
	require.NoError(t, err)

	_, held, err := entities.Holder(ctx, "search")
	require.NoError(t, err)
	assert.False(t, held)

	mode, held, err := claims.Holder(ctx, "search")
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, model.ConductorModeProactive, mode)

	group, err := composite.GetRingGroup(ctx, "search")
	require.NoError(t, err)
	assert.True(t, group.ConductorClaimed)
	assert.Equal(t, model.ConductorModeProactive, group.ConductorMode)

	require.NoError(t, composite.ReleaseConductor(ctx, claim))
}

func TestClaimedCoordinator_PingAndCloseReportClaimStoreFailure(t *testing.T) {
	boom := errors.New("redis down")
	composite := WithClaimStore(NewMemoryStore(nil), failingClaims{ClaimStore: NewMemoryStore(nil), err: boom})

	assert.ErrorIs(t, composite.Ping(context.Background()), boom)
	assert.ErrorIs(t, composite.Close(), boom)
}

// compositeAdmin routes SetConductorMode through the composite and every
// other administrative call to the entity store
type compositeAdmin struct {
	Admin
	composite *ClaimedCoordinator
}

func (a compositeAdmin) SetConductorMode(ctx context.Context, ringGroup string, mode model.ConductorMode) error {
	return a.composite.SetConductorMode(ctx, ringGroup, mode)
}

func adminOver(entities Admin, composite *ClaimedCoordinator) Admin {
	return compositeAdmin{Admin: entities, composite: composite}
}
