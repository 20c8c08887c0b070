package store

import (
	"context"
	"testing"

	"github.com/devrev/ringconductor/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend is a store usable by both the conductor and administrative tooling
type backend interface {
	Coordinator
	Admin
}

func uniqueGroupName() string {
	return "group-" + uuid.New().String()[:8]
}

// testRingGroupLifecycle exercises entity operations shared by every backend
func testRingGroupLifecycle(t *testing.T, s backend) {
	ctx := context.Background()
	name := uniqueGroupName()

	_, err := s.GetRingGroup(ctx, name)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.AddRingGroup(ctx, name))
	first, err := s.AddRing(ctx, name)
	require.NoError(t, err)
	second, err := s.AddRing(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)

	require.NoError(t, s.AddHost(ctx, name, 1, "h1"))
	require.NoError(t, s.AddHost(ctx, name, 2, "h2"))
	assert.Error(t, s.AddHost(ctx, name, 2, "h1"), "host addresses are unique within a ring group")

	require.NoError(t, s.AddDomainGroupVersion(ctx, name, &model.DomainGroupVersion{
		Number: 1, DomainVersions: map[string]int{"users": 1},
	}))
	assert.Error(t, s.StartUpdate(ctx, name, 9))
	require.NoError(t, s.StartUpdate(ctx, name, 1))

	group, err := s.GetRingGroup(ctx, name)
	require.NoError(t, err)
	require.Len(t, group.Rings, 2)
	assert.Equal(t, 1, group.Rings[0].Number)
	assert.Equal(t, 2, group.Rings[1].Number)
	assert.Equal(t, model.RingStateOpen, group.Rings[0].State)
	assert.Equal(t, model.HostStateIdle, group.Ring(1).Host("h1").State)
	require.NotNil(t, group.UpdatingToVersion)
	assert.Equal(t, 1, *group.UpdatingToVersion)
	require.NotNil(t, group.Ring(2).UpdatingToVersion)
	assert.Equal(t, 1, *group.Ring(2).UpdatingToVersion)
	assert.Equal(t, 1, group.Version(group.UpdatingToVersion).DomainVersions["users"])
	assert.Equal(t, model.ConductorModeInactive, group.ConductorMode)
	assert.False(t, group.ConductorClaimed)

	// Host reports
	require.NoError(t, s.SetHostState(ctx, name, 1, "h1", model.HostStateServing))
	require.NoError(t, s.SetHostDomainVersion(ctx, name, 1, "h1", "users", 1))
	require.ErrorIs(t, s.SetHostState(ctx, name, 1, "h2", model.HostStateServing), ErrNotFound)

	group, err = s.GetRingGroup(ctx, name)
	require.NoError(t, err)
	h1 := group.Ring(1).Host("h1")
	assert.Equal(t, model.HostStateServing, h1.State)
	assert.True(t, h1.IsUpToDate(group.Version(group.UpdatingToVersion)))
	assert.False(t, group.Ring(2).Host("h2").IsUpToDate(group.Version(group.UpdatingToVersion)))

	// Command queues are FIFO
	require.NoError(t, s.EnqueueCommand(ctx, name, 1, "h1", model.HostCommandGoToIdle))
	require.NoError(t, s.EnqueueCommand(ctx, name, 1, "h1", model.HostCommandExecuteUpdate))
	require.ErrorIs(t, s.EnqueueCommand(ctx, name, 1, "missing", model.HostCommandGoToIdle), ErrNotFound)

	group, err = s.GetRingGroup(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, []model.HostCommand{model.HostCommandGoToIdle, model.HostCommandExecuteUpdate},
		group.Ring(1).Host("h1").CommandQueue)

	cmd, ok, err := s.DequeueCommand(ctx, name, 1, "h1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.HostCommandGoToIdle, cmd)
	cmd, ok, err = s.DequeueCommand(ctx, name, 1, "h1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.HostCommandExecuteUpdate, cmd)
	_, ok, err = s.DequeueCommand(ctx, name, 1, "h1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Ring state and version bookkeeping
	require.NoError(t, s.SetRingState(ctx, name, 1, model.RingStateClosing))
	require.ErrorIs(t, s.SetRingState(ctx, name, 9, model.RingStateClosing), ErrNotFound)
	require.NoError(t, s.MarkRingUpdateComplete(ctx, name, 1))

	group, err = s.GetRingGroup(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, model.RingStateClosing, group.Ring(1).State)
	assert.Nil(t, group.Ring(1).UpdatingToVersion)
	require.NotNil(t, group.Ring(1).CurrentVersion)
	assert.Equal(t, 1, *group.Ring(1).CurrentVersion)
	assert.NotNil(t, group.Ring(2).UpdatingToVersion)

	require.NoError(t, s.MarkRingGroupUpdateComplete(ctx, name))
	require.NoError(t, s.MarkRingGroupUpdateComplete(ctx, name))

	group, err = s.GetRingGroup(ctx, name)
	require.NoError(t, err)
	assert.Nil(t, group.UpdatingToVersion)
	require.NotNil(t, group.CurrentVersion, "completing twice keeps the adopted version")
	assert.Equal(t, 1, *group.CurrentVersion)
}

// testConductorClaims exercises claim arbitration through a Coordinator
func testConductorClaims(t *testing.T, s Coordinator, admin Admin) {
	ctx := context.Background()
	name := uniqueGroupName()

	_, err := s.ClaimConductor(ctx, name, model.ConductorModeActive)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, admin.AddRingGroup(ctx, name))
	require.ErrorIs(t, admin.SetConductorMode(ctx, name, model.ConductorModeActive), ErrClaimNotHeld)

	claim, err := s.ClaimConductor(ctx, name, model.ConductorModeActive)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, name, claim.RingGroup)
	assert.NotEmpty(t, claim.Token)
	assert.Equal(t, model.ConductorModeActive, claim.Mode)

	group, err := s.GetRingGroup(ctx, name)
	require.NoError(t, err)
	assert.True(t, group.ConductorClaimed)
	assert.Equal(t, model.ConductorModeActive, group.ConductorMode)

	_, err = s.ClaimConductor(ctx, name, model.ConductorModeProactive)
	require.ErrorIs(t, err, ErrConductorClaimed)

	require.NoError(t, admin.SetConductorMode(ctx, name, model.ConductorModeInactive))
	group, err = s.GetRingGroup(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, model.ConductorModeInactive, group.ConductorMode)
	assert.True(t, group.ConductorClaimed)

	forged := *claim
	forged.Token = "not-the-token"
	require.ErrorIs(t, s.ReleaseConductor(ctx, &forged), ErrClaimNotHeld)
	require.ErrorIs(t, s.ReleaseConductor(ctx, nil), ErrClaimNotHeld)

	require.NoError(t, s.ReleaseConductor(ctx, claim))
	require.ErrorIs(t, s.ReleaseConductor(ctx, claim), ErrClaimNotHeld)

	group, err = s.GetRingGroup(ctx, name)
	require.NoError(t, err)
	assert.False(t, group.ConductorClaimed)
	assert.Equal(t, model.ConductorModeInactive, group.ConductorMode)

	// A released group can be claimed again
	again, err := s.ClaimConductor(ctx, name, model.ConductorModeProactive)
	require.NoError(t, err)
	assert.NotEqual(t, claim.Token, again.Token)
	require.NoError(t, s.ReleaseConductor(ctx, again))
}
