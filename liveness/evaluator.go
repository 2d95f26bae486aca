// Package liveness defines what "online" means for a storage provider
// and keeps that definition fresh from the provider side.
//
// The online rule lives in exactly one place, Availability, and every
// consumer (the provider's own self-check, the buyer's pre-purchase
// check, list-rendering collaborators) goes through it. Re-deriving
// the threshold at call sites is the defect class this removes.
package liveness

import (
	"time"

	"github.com/alphaai/storagemarket/types"
)

// FreshnessWindow is how long a heartbeat keeps a provider fresh.
// A provider whose last_seen is older than this is offline no matter
// what its active flag says.
const FreshnessWindow = 30 * time.Second

// Verdict explains an availability decision.
type Verdict string

const (
	VerdictOnline     Verdict = "online"
	VerdictInactive   Verdict = "inactive"
	VerdictStale      Verdict = "stale"
	VerdictNoNode     Verdict = "no_node"
	VerdictNoCapacity Verdict = "no_capacity"
)

// Availability derives the provider's availability from its record.
// Pure; no I/O, no clocks of its own.
func Availability(p *types.Provider, now time.Time) Verdict {
	if now.Sub(p.LastSeen) >= FreshnessWindow {
		return VerdictStale
	}
	if !p.Active {
		return VerdictInactive
	}
	if p.IPFSNodeID == "" {
		return VerdictNoNode
	}
	if p.AvailableGB <= 0 {
		return VerdictNoCapacity
	}
	return VerdictOnline
}

// IsOnline is the boolean form of Availability.
func IsOnline(p *types.Provider, now time.Time) bool {
	return Availability(p, now) == VerdictOnline
}
