package conductor

import (
	"context"
	"sync"

	"github.com/devrev/ringconductor/internal/model"
	"github.com/stretchr/testify/mock"
)

// MockCoordinator is a mock implementation of store.Coordinator
type MockCoordinator struct {
	mock.Mock
}

func (m *MockCoordinator) GetRingGroup(ctx context.Context, name string) (*model.RingGroup, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RingGroup).Clone(), args.Error(1)
}

func (m *MockCoordinator) ClaimConductor(ctx context.Context, ringGroup string, mode model.ConductorMode) (*model.ConductorClaim, error) {
	args := m.Called(ctx, ringGroup, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConductorClaim), args.Error(1)
}

func (m *MockCoordinator) ReleaseConductor(ctx context.Context, claim *model.ConductorClaim) error {
	args := m.Called(ctx, claim)
	return args.Error(0)
}

func (m *MockCoordinator) SetRingState(ctx context.Context, ringGroup string, ring int, state model.RingState) error {
	args := m.Called(ctx, ringGroup, ring, state)
	return args.Error(0)
}

func (m *MockCoordinator) EnqueueCommand(ctx context.Context, ringGroup string, ring int, host string, cmd model.HostCommand) error {
	args := m.Called(ctx, ringGroup, ring, host, cmd)
	return args.Error(0)
}

func (m *MockCoordinator) MarkRingUpdateComplete(ctx context.Context, ringGroup string, ring int) error {
	args := m.Called(ctx, ringGroup, ring)
	return args.Error(0)
}

func (m *MockCoordinator) MarkRingGroupUpdateComplete(ctx context.Context, ringGroup string) error {
	args := m.Called(ctx, ringGroup)
	return args.Error(0)
}

func (m *MockCoordinator) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCoordinator) Close() error {
	args := m.Called()
	return args.Error(0)
}

// fakeTransitions records invocations and delegates to fn when set
type fakeTransitions struct {
	mu     sync.Mutex
	calls  int
	groups []*model.RingGroup
	fn     func(ctx context.Context, call int, group *model.RingGroup) error
}

func (f *fakeTransitions) ManageTransitions(ctx context.Context, group *model.RingGroup) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.groups = append(f.groups, group)
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, call, group)
	}
	return nil
}

func (f *fakeTransitions) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
