package conductor

import (
	"github.com/devrev/ringconductor/internal/model"
)

// HostCommandRequest is a command to enqueue for one host
type HostCommandRequest struct {
	Host    string
	Command model.HostCommand
}

// StageDecision is the outcome of evaluating one ring for one stage
type StageDecision struct {
	// Next is the state the ring moves to
	Next model.RingState
	// Commands are enqueued before the state change is written
	Commands []HostCommandRequest
	// MarkUpdateComplete adopts the ring's updating-to version as current
	MarkUpdateComplete bool
	// Cascade means Next should be evaluated again within the same tick
	Cascade bool
	// CloseCandidate means the ring is OPEN with an update pending
	CloseCandidate bool
}

// Transitions reports whether the decision changes the ring's state
func (d StageDecision) Transitions(from model.RingState) bool {
	return d.Next != from
}

// EvaluateStage decides the next state of a ring and the commands to issue.
// target is the version the ring is updating to, and may be nil.
// EvaluateStage does not modify ring.
func EvaluateStage(ring *model.Ring, target *model.DomainGroupVersion) StageDecision {
	switch ring.State {
	case model.RingStateOpen:
		return StageDecision{
			Next:           model.RingStateOpen,
			CloseCandidate: ring.IsUpdatePending(),
		}

	case model.RingStateClosing:
		if ring.CountHostsInState(model.HostStateServing) == 0 &&
			ring.CountHostsInState(model.HostStateUpdating) == 0 {
			return StageDecision{Next: model.RingStateClosed, Cascade: true}
		}
		return StageDecision{Next: model.RingStateClosing}

	case model.RingStateClosed:
		return StageDecision{
			Next:     model.RingStateUpdating,
			Commands: commandAll(ring.Hosts, model.HostCommandExecuteUpdate),
		}

	case model.RingStateUpdating:
		if ring.CountHostsInState(model.HostStateUpdating) > 0 {
			return StageDecision{Next: model.RingStateUpdating}
		}
		if ring.IsUpToDate(target) {
			return StageDecision{Next: model.RingStateUpdated, Cascade: true}
		}
		// Hosts neither updating nor up to date presumably failed their update
		var retries []HostCommandRequest
		for _, host := range ring.Hosts {
			if host.IsUpToDate(target) || host.HasQueuedCommand(model.HostCommandExecuteUpdate) {
				continue
			}
			retries = append(retries, HostCommandRequest{
				Host:    host.Address,
				Command: model.HostCommandExecuteUpdate,
			})
		}
		return StageDecision{Next: model.RingStateUpdating, Commands: retries}

	case model.RingStateUpdated:
		return StageDecision{
			Next:               model.RingStateOpening,
			Commands:           commandAll(ring.Hosts, model.HostCommandServeData),
			MarkUpdateComplete: true,
		}

	case model.RingStateOpening:
		if ring.CountHostsInState(model.HostStateServing) == len(ring.Hosts) {
			return StageDecision{Next: model.RingStateOpen}
		}
		return StageDecision{Next: model.RingStateOpening}
	}

	return StageDecision{Next: ring.State}
}

func commandAll(hosts []*model.Host, cmd model.HostCommand) []HostCommandRequest {
	requests := make([]HostCommandRequest, 0, len(hosts))
	for _, host := range hosts {
		requests = append(requests, HostCommandRequest{Host: host.Address, Command: cmd})
	}
	return requests
}
