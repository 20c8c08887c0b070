package model

import (
	"sync"
	"time"
)

// DomainGroupVersion is an immutable snapshot of the domain versions a ring
// group can be updated to
type DomainGroupVersion struct {
	Number         int            `json:"number"`
	DomainVersions map[string]int `json:"domain_versions"`
}

// Clone returns a deep copy of the version
func (v *DomainGroupVersion) Clone() *DomainGroupVersion {
	if v == nil {
		return nil
	}
	out := &DomainGroupVersion{
		Number:         v.Number,
		DomainVersions: make(map[string]int, len(v.DomainVersions)),
	}
	for d, dv := range v.DomainVersions {
		out.DomainVersions[d] = dv
	}
	return out
}

// ConductorClaim is the ownership token handed out by a successful conductor
// claim. Release accepts only the claim that was returned.
type ConductorClaim struct {
	RingGroup string        `json:"ring_group"`
	Token     string        `json:"token"`
	Mode      ConductorMode `json:"mode"`
	ClaimedAt time.Time     `json:"claimed_at"`

	loss *claimLoss
}

type claimLoss struct {
	once sync.Once
	ch   chan struct{}
}

// NewConductorClaim creates a claim whose loss can be signalled by the store
// that issued it
func NewConductorClaim(ringGroup, token string, mode ConductorMode, claimedAt time.Time) *ConductorClaim {
	return &ConductorClaim{
		RingGroup: ringGroup,
		Token:     token,
		Mode:      mode,
		ClaimedAt: claimedAt,
		loss:      &claimLoss{ch: make(chan struct{})},
	}
}

// Lost returns a channel that is closed once the store no longer associates
// the claim with its holder. Claims that cannot be lost return nil.
func (c *ConductorClaim) Lost() <-chan struct{} {
	if c == nil || c.loss == nil {
		return nil
	}
	return c.loss.ch
}

// IsLost reports whether the claim has been marked lost
func (c *ConductorClaim) IsLost() bool {
	select {
	case <-c.Lost():
		return true
	default:
		return false
	}
}

// MarkLost closes the Lost channel. Subsequent calls are no-ops.
func (c *ConductorClaim) MarkLost() {
	if c == nil || c.loss == nil {
		return
	}
	c.loss.once.Do(func() {
		close(c.loss.ch)
	})
}
