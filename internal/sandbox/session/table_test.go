package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsert_MintsSessionIDAndClampsTTL(t *testing.T) {
	table := New(900, 3600)

	rec := table.Insert(Record{ContainerID: "c1", Persistent: true, TTLSeconds: 100000})
	assert.NotEmpty(t, rec.SessionID)
	assert.Equal(t, 3600, rec.TTLSeconds)
	assert.False(t, rec.StartedAt.IsZero())
	assert.False(t, rec.LastActivity.IsZero())
}

func TestInsert_UsesDefaultTTLWhenUnset(t *testing.T) {
	table := New(900, 3600)
	rec := table.Insert(Record{ContainerID: "c1", Persistent: true})
	assert.Equal(t, 900, rec.TTLSeconds)
}

func TestTouch_UpdatesLastActivity(t *testing.T) {
	table := New(900, 3600)
	rec := table.Insert(Record{ContainerID: "c1"})
	time.Sleep(5 * time.Millisecond)

	require.True(t, table.Touch("c1"))
	updated, ok := table.Lookup("c1")
	require.True(t, ok)
	assert.True(t, updated.LastActivity.After(rec.LastActivity))
}

func TestTouch_UnknownContainerReturnsFalse(t *testing.T) {
	table := New(900, 3600)
	assert.False(t, table.Touch("missing"))
}

func TestBySession_FindsByMintedID(t *testing.T) {
	table := New(900, 3600)
	rec := table.Insert(Record{ContainerID: "c1"})

	containerID, found, ok := table.BySession(rec.SessionID)
	require.True(t, ok)
	assert.Equal(t, "c1", containerID)
	assert.Equal(t, rec.SessionID, found.SessionID)
}

func TestRemove_DeletesRecordAndReportsExistence(t *testing.T) {
	table := New(900, 3600)
	table.Insert(Record{ContainerID: "c1"})

	assert.True(t, table.Remove("c1"))
	assert.False(t, table.Remove("c1"))
	_, ok := table.Lookup("c1")
	assert.False(t, ok)
}

func TestSnapshot_ReturnsDefensiveCopies(t *testing.T) {
	table := New(900, 3600)
	table.Insert(Record{ContainerID: "c1", Persistent: true, TTLSeconds: 300})

	snap := table.Snapshot()
	require.Len(t, snap, 1)
	snap[0].TTLSeconds = 1

	rec, ok := table.Lookup("c1")
	require.True(t, ok)
	assert.Equal(t, 300, rec.TTLSeconds, "mutating a snapshot entry must not affect the stored record")
}

func TestExtend_ClampsAtMaxTTL(t *testing.T) {
	table := New(900, 3600)
	rec := table.Insert(Record{ContainerID: "c1", Persistent: true, TTLSeconds: 3000})

	newTTL, ok := table.Extend(rec.SessionID, 10000)
	require.True(t, ok)
	assert.Equal(t, 3600, newTTL)
}

func TestExtend_UnknownSessionReturnsFalse(t *testing.T) {
	table := New(900, 3600)
	_, ok := table.Extend("missing", 100)
	assert.False(t, ok)
}

func TestRecord_RemainingSecondsNeverNegative(t *testing.T) {
	rec := Record{Persistent: true, TTLSeconds: 10, LastActivity: time.Now().Add(-time.Hour)}
	assert.Equal(t, 0, rec.RemainingSeconds(time.Now()))
}

func TestRecord_RemainingSecondsZeroForTransient(t *testing.T) {
	rec := Record{Persistent: false, TTLSeconds: 900, LastActivity: time.Now()}
	assert.Equal(t, 0, rec.RemainingSeconds(time.Now()))
}
