package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/ringconductor/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryStore implements Coordinator, Admin and ClaimStore in process memory.
// Snapshots handed out are deep copies, so callers never alias stored state.
type MemoryStore struct {
	groups map[string]*model.RingGroup
	claims map[string]*model.ConductorClaim
	mu     sync.RWMutex
	now    func() time.Time
	logger *zap.Logger
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		groups: make(map[string]*model.RingGroup),
		claims: make(map[string]*model.ConductorClaim),
		now:    time.Now,
		logger: logger,
	}
}

// GetRingGroup returns a snapshot of the ring group
func (s *MemoryStore) GetRingGroup(ctx context.Context, name string) (*model.RingGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[name]
	if !ok {
		return nil, fmt.Errorf("ring group %s: %w", name, ErrNotFound)
	}

	snapshot := group.Clone()
	snapshot.ConductorMode = model.ConductorModeInactive
	snapshot.ConductorClaimed = false
	if claim, held := s.claims[name]; held {
		snapshot.ConductorMode = claim.Mode
		snapshot.ConductorClaimed = true
	}
	snapshot.SortRings()
	return snapshot, nil
}

// ClaimConductor claims conductor status for a ring group
func (s *MemoryStore) ClaimConductor(ctx context.Context, ringGroup string, mode model.ConductorMode) (*model.ConductorClaim, error) {
	s.mu.RLock()
	_, ok := s.groups[ringGroup]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ring group %s: %w", ringGroup, ErrNotFound)
	}
	return s.Claim(ctx, ringGroup, mode)
}

// ReleaseConductor releases a claim returned by ClaimConductor
func (s *MemoryStore) ReleaseConductor(ctx context.Context, claim *model.ConductorClaim) error {
	return s.Release(ctx, claim)
}

// Claim implements ClaimStore
func (s *MemoryStore) Claim(ctx context.Context, ringGroup string, mode model.ConductorMode) (*model.ConductorClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.claims[ringGroup]; held {
		return nil, ErrConductorClaimed
	}
	claim := &model.ConductorClaim{
		RingGroup: ringGroup,
		Token:     uuid.New().String(),
		Mode:      mode,
		ClaimedAt: s.now(),
	}
	s.claims[ringGroup] = claim

	s.logger.Debug("Conductor claimed",
		zap.String("ring_group", ringGroup),
		zap.String("mode", string(mode)))

	copied := *claim
	return &copied, nil
}

// Release implements ClaimStore
func (s *MemoryStore) Release(ctx context.Context, claim *model.ConductorClaim) error {
	if claim == nil {
		return ErrClaimNotHeld
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.claims[claim.RingGroup]
	if !ok || held.Token != claim.Token {
		return ErrClaimNotHeld
	}
	delete(s.claims, claim.RingGroup)
	return nil
}

// Holder implements ClaimStore
func (s *MemoryStore) Holder(ctx context.Context, ringGroup string) (model.ConductorMode, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	claim, ok := s.claims[ringGroup]
	if !ok {
		return model.ConductorModeInactive, false, nil
	}
	return claim.Mode, true, nil
}

// SetMode implements ClaimStore
func (s *MemoryStore) SetMode(ctx context.Context, ringGroup string, mode model.ConductorMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[ringGroup]
	if !ok {
		return ErrClaimNotHeld
	}
	claim.Mode = mode
	return nil
}

// SetConductorMode changes the mode of the live conductor
func (s *MemoryStore) SetConductorMode(ctx context.Context, ringGroup string, mode model.ConductorMode) error {
	return s.SetMode(ctx, ringGroup, mode)
}

// SetRingState sets the state of a ring
func (s *MemoryStore) SetRingState(ctx context.Context, ringGroup string, ring int, state model.RingState) error {
	return s.withRing(ringGroup, ring, func(_ *model.RingGroup, r *model.Ring) error {
		r.State = state
		return nil
	})
}

// EnqueueCommand appends a command to a host's queue
func (s *MemoryStore) EnqueueCommand(ctx context.Context, ringGroup string, ring int, host string, cmd model.HostCommand) error {
	return s.withHost(ringGroup, ring, host, func(h *model.Host) error {
		h.CommandQueue = append(h.CommandQueue, cmd)
		return nil
	})
}

// MarkRingUpdateComplete adopts the ring's updating-to version as current
func (s *MemoryStore) MarkRingUpdateComplete(ctx context.Context, ringGroup string, ring int) error {
	return s.withRing(ringGroup, ring, func(_ *model.RingGroup, r *model.Ring) error {
		r.MarkUpdateComplete()
		return nil
	})
}

// MarkRingGroupUpdateComplete adopts the group's updating-to version as current
func (s *MemoryStore) MarkRingGroupUpdateComplete(ctx context.Context, ringGroup string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[ringGroup]
	if !ok {
		return fmt.Errorf("ring group %s: %w", ringGroup, ErrNotFound)
	}
	group.MarkUpdateComplete()
	return nil
}

// AddRingGroup creates an empty ring group
func (s *MemoryStore) AddRingGroup(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[name]; exists {
		return fmt.Errorf("ring group %s already exists", name)
	}
	s.groups[name] = &model.RingGroup{
		Name:     name,
		Versions: make(map[int]*model.DomainGroupVersion),
	}
	return nil
}

// AddRing appends a ring numbered after the last existing ring
func (s *MemoryStore) AddRing(ctx context.Context, ringGroup string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[ringGroup]
	if !ok {
		return 0, fmt.Errorf("ring group %s: %w", ringGroup, ErrNotFound)
	}
	number := 1
	for _, r := range group.Rings {
		if r.Number >= number {
			number = r.Number + 1
		}
	}
	group.Rings = append(group.Rings, &model.Ring{
		Number:         number,
		State:          model.RingStateOpen,
		CurrentVersion: cloneVersion(group.CurrentVersion),
	})
	return number, nil
}

// AddHost adds an idle host to a ring
func (s *MemoryStore) AddHost(ctx context.Context, ringGroup string, ring int, address string) error {
	return s.withRing(ringGroup, ring, func(group *model.RingGroup, r *model.Ring) error {
		for _, other := range group.Rings {
			if other.Host(address) != nil {
				return fmt.Errorf("host %s already exists in ring group %s", address, ringGroup)
			}
		}
		r.Hosts = append(r.Hosts, &model.Host{
			Address:        address,
			State:          model.HostStateIdle,
			DomainVersions: make(map[string]int),
		})
		return nil
	})
}

// AddDomainGroupVersion registers a version the group can be updated to
func (s *MemoryStore) AddDomainGroupVersion(ctx context.Context, ringGroup string, version *model.DomainGroupVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[ringGroup]
	if !ok {
		return fmt.Errorf("ring group %s: %w", ringGroup, ErrNotFound)
	}
	if _, exists := group.Versions[version.Number]; exists {
		return fmt.Errorf("version %d already exists in ring group %s", version.Number, ringGroup)
	}
	group.Versions[version.Number] = version.Clone()
	return nil
}

// StartUpdate marks the group and each of its rings as updating to version
func (s *MemoryStore) StartUpdate(ctx context.Context, ringGroup string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[ringGroup]
	if !ok {
		return fmt.Errorf("ring group %s: %w", ringGroup, ErrNotFound)
	}
	if _, known := group.Versions[version]; !known {
		return fmt.Errorf("version %d of ring group %s: %w", version, ringGroup, ErrNotFound)
	}
	group.UpdatingToVersion = model.IntPtr(version)
	for _, r := range group.Rings {
		r.UpdatingToVersion = model.IntPtr(version)
	}
	return nil
}

// SetHostState records the state a host reports
func (s *MemoryStore) SetHostState(ctx context.Context, ringGroup string, ring int, host string, state model.HostState) error {
	return s.withHost(ringGroup, ring, host, func(h *model.Host) error {
		h.State = state
		return nil
	})
}

// SetHostDomainVersion records the version of a domain a host serves
func (s *MemoryStore) SetHostDomainVersion(ctx context.Context, ringGroup string, ring int, host, domain string, version int) error {
	return s.withHost(ringGroup, ring, host, func(h *model.Host) error {
		if h.DomainVersions == nil {
			h.DomainVersions = make(map[string]int)
		}
		h.DomainVersions[domain] = version
		return nil
	})
}

// DequeueCommand pops the oldest command from a host's queue
func (s *MemoryStore) DequeueCommand(ctx context.Context, ringGroup string, ring int, host string) (model.HostCommand, bool, error) {
	var cmd model.HostCommand
	var ok bool
	err := s.withHost(ringGroup, ring, host, func(h *model.Host) error {
		if len(h.CommandQueue) == 0 {
			return nil
		}
		cmd, ok = h.CommandQueue[0], true
		h.CommandQueue = h.CommandQueue[1:]
		return nil
	})
	return cmd, ok, err
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) withRing(ringGroup string, ring int, fn func(*model.RingGroup, *model.Ring) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[ringGroup]
	if !ok {
		return fmt.Errorf("ring group %s: %w", ringGroup, ErrNotFound)
	}
	r := group.Ring(ring)
	if r == nil {
		return fmt.Errorf("ring %d of ring group %s: %w", ring, ringGroup, ErrNotFound)
	}
	return fn(group, r)
}

func (s *MemoryStore) withHost(ringGroup string, ring int, host string, fn func(*model.Host) error) error {
	return s.withRing(ringGroup, ring, func(_ *model.RingGroup, r *model.Ring) error {
		h := r.Host(host)
		if h == nil {
			return fmt.Errorf("host %s in ring %d of ring group %s: %w", host, ring, ringGroup, ErrNotFound)
		}
		return fn(h)
	})
}

func cloneVersion(v *int) *int {
	if v == nil {
		return nil
	}
	return model.IntPtr(*v)
}
