package model

import "fmt"

// HostState is the state a host reports about itself
type HostState string

const (
	// HostStateIdle indicates the host is neither serving nor updating
	HostStateIdle HostState = "IDLE"
	// HostStateUpdating indicates the host is executing an update
	HostStateUpdating HostState = "UPDATING"
	// HostStateServing indicates the host is serving data
	HostStateServing HostState = "SERVING"
	// HostStateOffline indicates the host is absent or unresponsive
	HostStateOffline HostState = "OFFLINE"
)

// ParseHostState parses a host state name
func ParseHostState(s string) (HostState, error) {
	switch st := HostState(s); st {
	case HostStateIdle, HostStateUpdating, HostStateServing, HostStateOffline:
		return st, nil
	default:
		return "", fmt.Errorf("unknown host state %q", s)
	}
}

// HostCommand is a request queued for a host. Hosts execute commands
// asynchronously and report the outcome through their state.
type HostCommand string

const (
	// HostCommandExecuteUpdate asks the host to update its partitions
	HostCommandExecuteUpdate HostCommand = "EXECUTE_UPDATE"
	// HostCommandServeData asks the host to start serving
	HostCommandServeData HostCommand = "SERVE_DATA"
	// HostCommandGoToIdle asks the host to stop serving
	HostCommandGoToIdle HostCommand = "GO_TO_IDLE"
)

// ParseHostCommand parses a host command name
func ParseHostCommand(s string) (HostCommand, error) {
	switch c := HostCommand(s); c {
	case HostCommandExecuteUpdate, HostCommandServeData, HostCommandGoToIdle:
		return c, nil
	default:
		return "", fmt.Errorf("unknown host command %q", s)
	}
}

// Host is a single serving node of a ring
type Host struct {
	Address        string
	State          HostState
	CommandQueue   []HostCommand
	DomainVersions map[string]int
}

// HasQueuedCommand reports whether cmd is pending in the host's queue
func (h *Host) HasQueuedCommand(cmd HostCommand) bool {
	for _, queued := range h.CommandQueue {
		if queued == cmd {
			return true
		}
	}
	return false
}

// IsUpToDate reports whether the host serves every domain at the version's
// domain versions. A nil version is trivially satisfied.
func (h *Host) IsUpToDate(version *DomainGroupVersion) bool {
	if version == nil {
		return true
	}
	for domain, want := range version.DomainVersions {
		have, ok := h.DomainVersions[domain]
		if !ok || have != want {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the host
func (h *Host) Clone() *Host {
	out := &Host{
		Address:      h.Address,
		State:        h.State,
		CommandQueue: append([]HostCommand(nil), h.CommandQueue...),
	}
	if h.DomainVersions != nil {
		out.DomainVersions = make(map[string]int, len(h.DomainVersions))
		for d, v := range h.DomainVersions {
			out.DomainVersions[d] = v
		}
	}
	return out
}

func (h *Host) String() string {
	return fmt.Sprintf("%s [%s]", h.Address, h.State)
}
