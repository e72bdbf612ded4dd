package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Table is the process-wide container_id -> Record map, guarded by a
// single mutex (spec §4.3, §5 "Shared resources"). Tables in this
// service are operator-scale, not fleet-scale, so BySession is a linear
// scan rather than a secondary index — exactly as spec §4.3 allows.
type Table struct {
	mu      sync.Mutex
	records map[string]*Record

	maxTTL     int
	defaultTTL int
}

// New creates an empty Table. defaultTTL and maxTTL implement the clamp
// in spec invariant 2 / §4.5.1 step 6.
func New(defaultTTL, maxTTL int) *Table {
	return &Table{records: map[string]*Record{}, defaultTTL: defaultTTL, maxTTL: maxTTL}
}

func (t *Table) clampTTL(requested int) int {
	ttl := requested
	if ttl <= 0 {
		ttl = t.defaultTTL
	}
	if ttl > t.maxTTL {
		ttl = t.maxTTL
	}
	if ttl < 0 {
		ttl = 0
	}
	return ttl
}

// Insert adds a new record, minting a session_id if one was not already
// set and stamping started_at/last_activity if unset (spec §4.3
// "insert"). Record creation is all-or-nothing (spec §5 ordering
// guarantee (a)).
func (t *Table) Insert(r Record) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	}
	now := time.Now()
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	if r.LastActivity.IsZero() {
		r.LastActivity = now
	}
	r.TTLSeconds = t.clampTTL(r.TTLSeconds)

	stored := r
	t.records[r.ContainerID] = &stored
	return stored
}

// Touch bumps last_activity to now and reports whether the record
// existed (spec §4.3 "touch", invariant I5).
func (t *Table) Touch(containerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[containerID]
	if !ok {
		return false
	}
	rec.LastActivity = time.Now()
	return true
}

// Lookup returns a defensive copy of the record for containerID.
func (t *Table) Lookup(containerID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[containerID]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// BySession finds a record by session_id via linear scan (spec §4.3).
func (t *Table) BySession(sessionID string) (string, Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, rec := range t.records {
		if rec.SessionID == sessionID {
			return id, rec.Clone(), true
		}
	}
	return "", Record{}, false
}

// Remove deletes the record for containerID, reporting whether it existed.
func (t *Table) Remove(containerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[containerID]; !ok {
		return false
	}
	delete(t.records, containerID)
	return true
}

// Snapshot returns a defensive copy of every live record, for the reaper
// and status endpoints (spec §4.3 "snapshot").
func (t *Table) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec.Clone())
	}
	return out
}

// Extend atomically clamps ttl_seconds += delta at MAX_TTL and bumps
// last_activity, returning the new TTL and whether the session existed
// (spec §4.3 "extend", §4.5.4, invariant I8).
func (t *Table) Extend(sessionID string, delta int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.records {
		if rec.SessionID == sessionID {
			rec.TTLSeconds += delta
			if rec.TTLSeconds > t.maxTTL {
				rec.TTLSeconds = t.maxTTL
			}
			if rec.TTLSeconds < 0 {
				rec.TTLSeconds = 0
			}
			rec.LastActivity = time.Now()
			return rec.TTLSeconds, true
		}
	}
	return 0, false
}

// Len reports the number of tracked records (for metrics).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
