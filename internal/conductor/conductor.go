package conductor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/ringconductor/internal/metrics"
	"github.com/devrev/ringconductor/internal/model"
	"github.com/devrev/ringconductor/internal/store"
	"go.uber.org/zap"
)

const (
	defaultSleepInterval = 10 * time.Second
	releaseTimeout       = 5 * time.Second
)

// Options configures a Conductor
type Options struct {
	RingGroupName string
	SleepInterval time.Duration
	InitialMode   model.ConductorMode
}

// Conductor claims a ring group and drives its transitions until stopped
type Conductor struct {
	opts        Options
	store       store.Coordinator
	transitions TransitionFunction
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu        sync.Mutex
	ringGroup *model.RingGroup

	claimMu sync.Mutex
	claim   *model.ConductorClaim

	stopping atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewConductor creates a conductor for the ring group named in opts
func NewConductor(
	opts Options,
	coordinator store.Coordinator,
	transitions TransitionFunction,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Conductor {
	if opts.SleepInterval <= 0 {
		opts.SleepInterval = defaultSleepInterval
	}
	if opts.InitialMode == "" {
		opts.InitialMode = model.ConductorModeActive
	}

	return &Conductor{
		opts:        opts,
		store:       coordinator,
		transitions: transitions,
		metrics:     m,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Run claims the ring group and polls it until Stop is called or ctx is
// done. Losing the claim race to another conductor is not an error: Run
// returns nil without polling. A failing tick ends the run and its error is
// returned, as does losing a held claim (store.ErrClaimLost). The claim is
// released on every exit path.
func (c *Conductor) Run(ctx context.Context) (err error) {
	group, err := c.store.GetRingGroup(ctx, c.opts.RingGroupName)
	if err != nil {
		return fmt.Errorf("failed to load ring group %s: %w", c.opts.RingGroupName, err)
	}
	c.SetRingGroup(group)

	claim, err := c.store.ClaimConductor(ctx, c.opts.RingGroupName, c.opts.InitialMode)
	if errors.Is(err, store.ErrConductorClaimed) {
		c.logger.Info("Ring group is already claimed by another conductor",
			zap.String("ring_group", c.opts.RingGroupName))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim conductor for ring group %s: %w", c.opts.RingGroupName, err)
	}

	c.claimMu.Lock()
	c.claim = claim
	c.claimMu.Unlock()
	c.metrics.SetClaimHeld(true)

	c.logger.Info("Conductor claimed ring group",
		zap.String("ring_group", c.opts.RingGroupName),
		zap.String("mode", string(claim.Mode)),
		zap.Duration("sleep_interval", c.opts.SleepInterval))

	defer func() {
		releaseErr := c.Release(ctx)
		if releaseErr == nil {
			return
		}
		if ctx.Err() != nil {
			// Shutting down on a signal; nothing more can be done
			c.logger.Warn("Failed to release conductor claim during shutdown",
				zap.String("ring_group", c.opts.RingGroupName),
				zap.Error(releaseErr))
			return
		}
		if err == nil {
			err = releaseErr
		}
	}()

	return c.loop(ctx, claim)
}

func (c *Conductor) loop(ctx context.Context, claim *model.ConductorClaim) error {
	for !c.stopping.Load() {
		if ctx.Err() != nil {
			c.logger.Info("Conductor interrupted", zap.String("ring_group", c.opts.RingGroupName))
			return nil
		}
		if claim.IsLost() {
			c.logger.Error("Conductor claim lost, stopping",
				zap.String("ring_group", c.opts.RingGroupName))
			return fmt.Errorf("ring group %s: %w", c.opts.RingGroupName, store.ErrClaimLost)
		}

		if err := c.tick(ctx); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Conductor interrupted during tick",
					zap.String("ring_group", c.opts.RingGroupName),
					zap.Error(err))
				return nil
			}
			c.logger.Error("Fatal error in conductor, stopping",
				zap.String("ring_group", c.opts.RingGroupName),
				zap.Error(err))
			return err
		}

		c.sleep(ctx, claim.Lost())
	}

	c.logger.Info("Conductor stopped", zap.String("ring_group", c.opts.RingGroupName))
	return nil
}

func (c *Conductor) tick(ctx context.Context) (err error) {
	start := time.Now()
	result := "ok"

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in conductor tick: %v", r)
		}
		if err != nil {
			result = "error"
		}
		c.metrics.RecordTick(result, time.Since(start).Seconds())
	}()

	group, err := c.store.GetRingGroup(ctx, c.opts.RingGroupName)
	if err != nil {
		return fmt.Errorf("failed to refresh ring group: %w", err)
	}
	c.SetRingGroup(group)

	snapshot := c.RingGroup()
	if !snapshot.ConductorMode.Drives() {
		result = "skipped"
		c.logger.Debug("Conductor mode does not permit transitions",
			zap.String("ring_group", snapshot.Name),
			zap.String("mode", string(snapshot.ConductorMode)))
		return nil
	}

	return c.transitions.ManageTransitions(ctx, snapshot)
}

func (c *Conductor) sleep(ctx context.Context, lost <-chan struct{}) {
	timer := time.NewTimer(c.opts.SleepInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-c.stopCh:
	case <-lost:
	case <-ctx.Done():
	}
}

// Stop asks the loop to exit before its next tick. A tick in progress runs to
// completion.
func (c *Conductor) Stop() {
	c.stopping.Store(true)
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// Release gives up the claim if this conductor holds it. Calls after the
// first are no-ops, as is releasing a claim that was already lost.
func (c *Conductor) Release(ctx context.Context) error {
	c.claimMu.Lock()
	claim := c.claim
	c.claim = nil
	c.claimMu.Unlock()

	if claim == nil {
		return nil
	}
	c.metrics.SetClaimHeld(false)
	if claim.IsLost() {
		return nil
	}

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := c.store.ReleaseConductor(releaseCtx, claim); err != nil {
		return fmt.Errorf("failed to release conductor claim: %w", err)
	}

	c.logger.Info("Conductor released ring group",
		zap.String("ring_group", claim.RingGroup))
	return nil
}

// HoldsClaim reports whether this conductor currently holds its claim
func (c *Conductor) HoldsClaim() bool {
	c.claimMu.Lock()
	defer c.claimMu.Unlock()
	return c.claim != nil && !c.claim.IsLost()
}

// SetRingGroup replaces the ring group reference read by the next tick
func (c *Conductor) SetRingGroup(group *model.RingGroup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ringGroup = group
}

// RingGroup returns the current ring group reference
func (c *Conductor) RingGroup() *model.RingGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ringGroup
}
