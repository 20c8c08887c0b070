package conductor

import (
	"context"
	"errors"
	"fmt"

	"github.com/devrev/ringconductor/internal/metrics"
	"github.com/devrev/ringconductor/internal/model"
	"github.com/devrev/ringconductor/internal/store"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// ErrUnknownVersion is returned when a ring targets a domain group version
// its ring group does not define
var ErrUnknownVersion = errors.New("unknown domain group version")

// TransitionFunction advances a ring group one step towards its target version
type TransitionFunction interface {
	ManageTransitions(ctx context.Context, group *model.RingGroup) error
}

// RingGroupTransitions performs a rolling update one ring at a time. A ring
// only starts closing when every other ring is OPEN.
type RingGroupTransitions struct {
	store              store.Coordinator
	metrics            *metrics.Metrics
	commandConcurrency int
	logger             *zap.Logger
}

// NewRingGroupTransitions creates the rolling update transition function
func NewRingGroupTransitions(
	coordinator store.Coordinator,
	m *metrics.Metrics,
	commandConcurrency int,
	logger *zap.Logger,
) *RingGroupTransitions {
	if commandConcurrency <= 0 {
		commandConcurrency = 1
	}
	return &RingGroupTransitions{
		store:              coordinator,
		metrics:            m,
		commandConcurrency: commandConcurrency,
		logger:             logger,
	}
}

// ManageTransitions evaluates every ring of group in ring number order. group
// is updated in place to reflect the writes issued to the store.
func (t *RingGroupTransitions) ManageTransitions(ctx context.Context, group *model.RingGroup) error {
	anyUpdatePending := false
	anyBusy := false
	var closable []*model.Ring

	for _, ring := range group.Rings {
		t.metrics.ObserveRingState(ring.Number, ring.State)

		if ring.State == model.RingStateOpen && !ring.IsUpdatePending() {
			t.logger.Debug("Ring is open and up to date",
				zap.String("ring_group", group.Name),
				zap.Int("ring", ring.Number))
			continue
		}

		anyUpdatePending = true
		if ring.State != model.RingStateOpen {
			anyBusy = true
		}

		candidate, err := t.advanceRing(ctx, group, ring)
		if err != nil {
			return err
		}
		if candidate {
			closable = append(closable, ring)
		}
	}

	if !anyBusy && len(closable) > 0 {
		if err := t.closeRing(ctx, group, closable[0]); err != nil {
			return err
		}
	}

	if !anyUpdatePending && group.IsUpdating() {
		if err := t.store.MarkRingGroupUpdateComplete(ctx, group.Name); err != nil {
			return fmt.Errorf("failed to mark ring group %s update complete: %w", group.Name, err)
		}
		completed := *group.UpdatingToVersion
		group.MarkUpdateComplete()
		t.metrics.RecordUpdateCompleted()
		t.logger.Info("Ring group update complete",
			zap.String("ring_group", group.Name),
			zap.Int("version", completed))
	}

	t.metrics.SetUpdateProgress(group.UpdateProgress(group.MostRecentVersion()).Fraction())
	return nil
}

// advanceRing applies stage decisions to ring until one does not cascade.
// It reports whether the ring is a candidate for closing.
func (t *RingGroupTransitions) advanceRing(ctx context.Context, group *model.RingGroup, ring *model.Ring) (bool, error) {
	target, err := t.targetVersion(group, ring)
	if err != nil {
		return false, err
	}

	for {
		decision := EvaluateStage(ring, target)
		if decision.CloseCandidate {
			t.logger.Debug("Ring has a pending update and can be closed",
				zap.String("ring_group", group.Name),
				zap.Int("ring", ring.Number))
			return true, nil
		}

		if err := t.apply(ctx, group.Name, ring, decision); err != nil {
			return false, err
		}
		if !decision.Cascade {
			return false, nil
		}
	}
}

func (t *RingGroupTransitions) apply(ctx context.Context, groupName string, ring *model.Ring, decision StageDecision) error {
	if decision.MarkUpdateComplete {
		if err := t.store.MarkRingUpdateComplete(ctx, groupName, ring.Number); err != nil {
			return fmt.Errorf("failed to mark ring %d update complete: %w", ring.Number, err)
		}
		ring.MarkUpdateComplete()
	}

	if err := t.enqueue(ctx, groupName, ring, decision.Commands); err != nil {
		return err
	}

	if decision.Transitions(ring.State) {
		return t.setState(ctx, groupName, ring, decision.Next)
	}

	t.logger.Debug("Ring unchanged",
		zap.String("ring_group", groupName),
		zap.Int("ring", ring.Number),
		zap.String("state", string(ring.State)),
		zap.Int("commands", len(decision.Commands)))
	return nil
}

func (t *RingGroupTransitions) closeRing(ctx context.Context, group *model.RingGroup, ring *model.Ring) error {
	t.logger.Info("Closing ring for update",
		zap.String("ring_group", group.Name),
		zap.Int("ring", ring.Number))

	if err := t.enqueue(ctx, group.Name, ring, commandAll(ring.Hosts, model.HostCommandGoToIdle)); err != nil {
		return err
	}
	return t.setState(ctx, group.Name, ring, model.RingStateClosing)
}

func (t *RingGroupTransitions) setState(ctx context.Context, groupName string, ring *model.Ring, next model.RingState) error {
	if err := t.store.SetRingState(ctx, groupName, ring.Number, next); err != nil {
		return fmt.Errorf("failed to set ring %d state to %s: %w", ring.Number, next, err)
	}

	t.logger.Info("Ring transitioned",
		zap.String("ring_group", groupName),
		zap.Int("ring", ring.Number),
		zap.String("from", string(ring.State)),
		zap.String("to", string(next)))
	t.metrics.RecordTransition(ring.Number, ring.State, next)

	ring.State = next
	return nil
}

// enqueue writes commands to the store concurrently. Each host receives at
// most one command per call, so per-host queue order is preserved.
func (t *RingGroupTransitions) enqueue(ctx context.Context, groupName string, ring *model.Ring, commands []HostCommandRequest) error {
	if len(commands) == 0 {
		return nil
	}

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(t.commandConcurrency)
	for _, req := range commands {
		req := req
		p.Go(func(ctx context.Context) error {
			if err := t.store.EnqueueCommand(ctx, groupName, ring.Number, req.Host, req.Command); err != nil {
				return fmt.Errorf("failed to enqueue %s for host %s: %w", req.Command, req.Host, err)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	for _, req := range commands {
		if host := ring.Host(req.Host); host != nil {
			host.CommandQueue = append(host.CommandQueue, req.Command)
		}
		t.metrics.RecordHostCommand(req.Command)
		t.logger.Debug("Enqueued host command",
			zap.String("ring_group", groupName),
			zap.Int("ring", ring.Number),
			zap.String("host", req.Host),
			zap.String("command", string(req.Command)))
	}
	return nil
}

// targetVersion resolves the version a ring is updating to, falling back to
// the group's updating-to version. A nil result means there is no target. A
// version number the group does not define is an error.
func (t *RingGroupTransitions) targetVersion(group *model.RingGroup, ring *model.Ring) (*model.DomainGroupVersion, error) {
	number := ring.UpdatingToVersion
	if number == nil {
		number = group.UpdatingToVersion
	}
	if number == nil {
		return nil, nil
	}

	version := group.Version(number)
	if version == nil {
		return nil, fmt.Errorf("ring %d of ring group %s targets version %d: %w",
			ring.Number, group.Name, *number, ErrUnknownVersion)
	}
	return version, nil
}
