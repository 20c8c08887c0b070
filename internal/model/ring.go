package model

// RingState represents the deployment stage of a ring
type RingState string

const (
	// RingStateOpen indicates the ring is serving live traffic
	RingStateOpen RingState = "OPEN"
	// RingStateClosing indicates hosts were told to go idle
	RingStateClosing RingState = "CLOSING"
	// RingStateClosed indicates every host is idle or offline
	RingStateClosed RingState = "CLOSED"
	// RingStateUpdating indicates hosts were told to execute the update
	RingStateUpdating RingState = "UPDATING"
	// RingStateUpdated indicates every host is up to date
	RingStateUpdated RingState = "UPDATED"
	// RingStateOpening indicates hosts were told to serve data
	RingStateOpening RingState = "OPENING"
)

// Ring is a set of hosts that together serve every partition of a version
type Ring struct {
	Number            int
	State             RingState
	CurrentVersion    *int
	UpdatingToVersion *int
	Hosts             []*Host
}

// IsUpdatePending reports whether the ring has an update to apply
func (r *Ring) IsUpdatePending() bool {
	return r.UpdatingToVersion != nil
}

// HostsInState returns the ring's hosts in the given state
func (r *Ring) HostsInState(state HostState) []*Host {
	var hosts []*Host
	for _, host := range r.Hosts {
		if host.State == state {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// CountHostsInState returns how many of the ring's hosts are in the given state
func (r *Ring) CountHostsInState(state HostState) int {
	n := 0
	for _, host := range r.Hosts {
		if host.State == state {
			n++
		}
	}
	return n
}

// Host returns the host with the given address, or nil
func (r *Ring) Host(address string) *Host {
	for _, host := range r.Hosts {
		if host.Address == address {
			return host
		}
	}
	return nil
}

// IsUpToDate reports whether every host is up to date with the version
func (r *Ring) IsUpToDate(version *DomainGroupVersion) bool {
	for _, host := range r.Hosts {
		if !host.IsUpToDate(version) {
			return false
		}
	}
	return true
}

// UpdateProgress counts the ring's hosts that are up to date with the version
func (r *Ring) UpdateProgress(version *DomainGroupVersion) UpdateProgress {
	progress := UpdateProgress{NumHosts: len(r.Hosts)}
	for _, host := range r.Hosts {
		if host.IsUpToDate(version) {
			progress.NumHostsUpToDate++
		}
	}
	return progress
}

// MarkUpdateComplete adopts the ring's updating-to version as current.
// It is a no-op when the ring has nothing pending.
func (r *Ring) MarkUpdateComplete() bool {
	if r.UpdatingToVersion == nil {
		return false
	}
	v := *r.UpdatingToVersion
	r.CurrentVersion = &v
	r.UpdatingToVersion = nil
	return true
}

// Clone returns a deep copy of the ring
func (r *Ring) Clone() *Ring {
	out := &Ring{
		Number:            r.Number,
		State:             r.State,
		CurrentVersion:    cloneInt(r.CurrentVersion),
		UpdatingToVersion: cloneInt(r.UpdatingToVersion),
		Hosts:             make([]*Host, 0, len(r.Hosts)),
	}
	for _, host := range r.Hosts {
		out.Hosts = append(out.Hosts, host.Clone())
	}
	return out
}
