package store

import (
	"context"
	"sync"
	"testing"

	"github.com/devrev/ringconductor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryStore_RingGroupLifecycle(t *testing.T) {
	testRingGroupLifecycle(t, NewMemoryStore(zap.NewNop()))
}

func TestMemoryStore_ConductorClaims(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	testConductorClaims(t, s, s)
}

func TestMemoryStore_SnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	require.NoError(t, s.AddRingGroup(ctx, "search"))
	_, err := s.AddRing(ctx, "search")
	require.NoError(t, err)
	require.NoError(t, s.AddHost(ctx, "search", 1, "h1"))

	group, err := s.GetRingGroup(ctx, "search")
	require.NoError(t, err)
	group.Rings[0].State = model.RingStateClosed
	group.Rings[0].Hosts[0].CommandQueue = append(group.Rings[0].Hosts[0].CommandQueue, model.HostCommandServeData)

	fresh, err := s.GetRingGroup(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, model.RingStateOpen, fresh.Rings[0].State)
	assert.Empty(t, fresh.Rings[0].Hosts[0].CommandQueue)
}

func TestMemoryStore_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	require.NoError(t, s.AddRingGroup(ctx, "search"))

	const contenders = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimConductor(ctx, "search", model.ConductorModeActive); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrConductorClaimed)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestMemoryStore_AddRingInheritsCurrentVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	require.NoError(t, s.AddRingGroup(ctx, "search"))
	require.NoError(t, s.AddDomainGroupVersion(ctx, "search", &model.DomainGroupVersion{Number: 3}))
	require.NoError(t, s.StartUpdate(ctx, "search", 3))
	require.NoError(t, s.MarkRingGroupUpdateComplete(ctx, "search"))

	number, err := s.AddRing(ctx, "search")
	require.NoError(t, err)

	group, err := s.GetRingGroup(ctx, "search")
	require.NoError(t, err)
	require.NotNil(t, group.Ring(number).CurrentVersion)
	assert.Equal(t, 3, *group.Ring(number).CurrentVersion)
}

func TestMemoryStore_DuplicateVersionRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	require.NoError(t, s.AddRingGroup(ctx, "search"))
	require.NoError(t, s.AddDomainGroupVersion(ctx, "search", &model.DomainGroupVersion{Number: 1}))

	assert.Error(t, s.AddDomainGroupVersion(ctx, "search", &model.DomainGroupVersion{Number: 1}))
	assert.Error(t, s.AddRingGroup(ctx, "search"))
}
