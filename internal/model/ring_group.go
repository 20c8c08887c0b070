package model

import (
	"fmt"
	"sort"
)

// ConductorMode controls whether a claimed conductor acts on the ring group
type ConductorMode string

const (
	// ConductorModeInactive means the conductor observes only
	ConductorModeInactive ConductorMode = "INACTIVE"
	// ConductorModeActive means the conductor drives ring transitions
	ConductorModeActive ConductorMode = "ACTIVE"
	// ConductorModeProactive drives ring transitions like ACTIVE
	ConductorModeProactive ConductorMode = "PROACTIVE"
)

// ParseConductorMode parses a mode name
func ParseConductorMode(s string) (ConductorMode, error) {
	switch m := ConductorMode(s); m {
	case ConductorModeInactive, ConductorModeActive, ConductorModeProactive:
		return m, nil
	default:
		return "", fmt.Errorf("unknown conductor mode %q", s)
	}
}

// Drives reports whether the mode permits the conductor to manage transitions
func (m ConductorMode) Drives() bool {
	return m == ConductorModeActive || m == ConductorModeProactive
}

// RingGroup is a point-in-time snapshot of a named collection of rings
type RingGroup struct {
	Name              string
	Rings             []*Ring
	CurrentVersion    *int
	UpdatingToVersion *int
	Versions          map[int]*DomainGroupVersion
	ConductorMode     ConductorMode
	ConductorClaimed  bool
}

// SortRings orders rings by ring number
func (g *RingGroup) SortRings() {
	sort.Slice(g.Rings, func(i, j int) bool {
		return g.Rings[i].Number < g.Rings[j].Number
	})
}

// Ring returns the ring with the given number, or nil
func (g *RingGroup) Ring(number int) *Ring {
	for _, ring := range g.Rings {
		if ring.Number == number {
			return ring
		}
	}
	return nil
}

// Version resolves a domain group version number against the group's known versions
func (g *RingGroup) Version(number *int) *DomainGroupVersion {
	if number == nil || g.Versions == nil {
		return nil
	}
	return g.Versions[*number]
}

// IsUpdating reports whether a group-wide update is in flight
func (g *RingGroup) IsUpdating() bool {
	return g.UpdatingToVersion != nil
}

// IsUpToDate reports whether every ring is up to date with the given version
func (g *RingGroup) IsUpToDate(version *DomainGroupVersion) bool {
	for _, ring := range g.Rings {
		if !ring.IsUpToDate(version) {
			return false
		}
	}
	return true
}

// MostRecentVersion returns the updating-to version if any, the current version otherwise
func (g *RingGroup) MostRecentVersion() *DomainGroupVersion {
	if g.UpdatingToVersion != nil {
		return g.Version(g.UpdatingToVersion)
	}
	return g.Version(g.CurrentVersion)
}

// NumHosts returns the number of hosts across all rings
func (g *RingGroup) NumHosts() int {
	n := 0
	for _, ring := range g.Rings {
		n += len(ring.Hosts)
	}
	return n
}

// HostsInState returns every host of the group in the given state
func (g *RingGroup) HostsInState(state HostState) []*Host {
	var hosts []*Host
	for _, ring := range g.Rings {
		hosts = append(hosts, ring.HostsInState(state)...)
	}
	return hosts
}

// UpdateProgress aggregates host update progress over all rings
func (g *RingGroup) UpdateProgress(version *DomainGroupVersion) UpdateProgress {
	var progress UpdateProgress
	for _, ring := range g.Rings {
		progress.Aggregate(ring.UpdateProgress(version))
	}
	return progress
}

// MarkUpdateComplete adopts the updating-to version as current.
// It is a no-op when no update is in flight.
func (g *RingGroup) MarkUpdateComplete() bool {
	if g.UpdatingToVersion == nil {
		return false
	}
	v := *g.UpdatingToVersion
	g.CurrentVersion = &v
	g.UpdatingToVersion = nil
	return true
}

// Clone returns a deep copy of the ring group
func (g *RingGroup) Clone() *RingGroup {
	if g == nil {
		return nil
	}
	out := &RingGroup{
		Name:              g.Name,
		CurrentVersion:    cloneInt(g.CurrentVersion),
		UpdatingToVersion: cloneInt(g.UpdatingToVersion),
		ConductorMode:     g.ConductorMode,
		ConductorClaimed:  g.ConductorClaimed,
		Rings:             make([]*Ring, 0, len(g.Rings)),
	}
	if g.Versions != nil {
		out.Versions = make(map[int]*DomainGroupVersion, len(g.Versions))
		for n, v := range g.Versions {
			out.Versions[n] = v.Clone()
		}
	}
	for _, ring := range g.Rings {
		out.Rings = append(out.Rings, ring.Clone())
	}
	return out
}

// UpdateProgress counts hosts that are up to date with a version
type UpdateProgress struct {
	NumHosts         int
	NumHostsUpToDate int
}

// Aggregate adds another progress count
func (p *UpdateProgress) Aggregate(other UpdateProgress) {
	p.NumHosts += other.NumHosts
	p.NumHostsUpToDate += other.NumHostsUpToDate
}

// Fraction returns the share of up to date hosts in [0, 1]
func (p UpdateProgress) Fraction() float64 {
	if p.NumHosts == 0 {
		return 1
	}
	return float64(p.NumHostsUpToDate) / float64(p.NumHosts)
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}
