// Package session implements the in-memory session table (spec §4.3,
// component C3): a container_id -> SessionRecord map with mutually
// exclusive mutation and snapshot reads.
package session

import (
	"time"

	"github.com/agent-infra/sandboxd/internal/sandbox/registry"
)

// Record is one live (or transient-in-flight) sandbox session (spec §3).
type Record struct {
	ContainerID string
	SessionID   string
	ProfileName string
	Profile     registry.Profile
	Persistent  bool
	TTLSeconds  int
	StartedAt   time.Time
	LastActivity time.Time

	TTYDEnabled  bool
	TTYDHostPort int
	TTYDURL      string

	// NetworkPolicyRelaxed records that ttyd forced network_mode=default
	// even though the profile declared "none" (spec §3 invariant 3, §9
	// Open Question (a)).
	NetworkPolicyRelaxed bool
}

// Clone returns a value copy safe to hand to a caller outside the table's
// lock (spec §4.3: readers obtain a defensive copy).
func (r Record) Clone() Record { return r }

// RemainingSeconds computes max(0, ttl - (now - last_activity)) for a
// persistent record (spec §4.5.6); a transient record always reports 0.
func (r Record) RemainingSeconds(now time.Time) int {
	if !r.Persistent {
		return 0
	}
	elapsed := now.Sub(r.LastActivity)
	remaining := time.Duration(r.TTLSeconds)*time.Second - elapsed
	if remaining < 0 {
		return 0
	}
	return int(remaining.Seconds())
}

// ExpiresAt returns last_activity + ttl_seconds (spec §4.4 step 2).
func (r Record) ExpiresAt() time.Time {
	return r.LastActivity.Add(time.Duration(r.TTLSeconds) * time.Second)
}
