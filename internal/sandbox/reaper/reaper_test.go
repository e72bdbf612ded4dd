package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-infra/sandboxd/internal/logging"
	"github.com/agent-infra/sandboxd/internal/sandbox/engine"
	"github.com/agent-infra/sandboxd/internal/sandbox/session"
)

func TestTick_EvictsOnlyExpiredPersistentRecords(t *testing.T) {
	fake := engine.NewFake()
	table := session.New(900, 3600)
	lazy := engine.NewLazy(fake)

	containerID, err := fake.Run(context.Background(), engine.RunOptions{Image: "sandboxd/python-sandbox:latest"})
	require.NoError(t, err)
	table.Insert(session.Record{
		ContainerID:  containerID,
		Persistent:   true,
		TTLSeconds:   1,
		LastActivity: time.Now().Add(-time.Hour),
	})

	freshID, err := fake.Run(context.Background(), engine.RunOptions{Image: "sandboxd/python-sandbox:latest"})
	require.NoError(t, err)
	table.Insert(session.Record{
		ContainerID: freshID,
		Persistent:  true,
		TTLSeconds:  900,
	})

	r := New(table, lazy, logging.OrNop(nil), nil, 10*time.Millisecond, time.Second)
	r.tick(context.Background())

	_, expiredStillTracked := table.Lookup(containerID)
	assert.False(t, expiredStillTracked)
	_, freshStillTracked := table.Lookup(freshID)
	assert.True(t, freshStillTracked)
	assert.Contains(t, fake.StopCalls, containerID)
}

func TestTick_TransientRecordsAreNeverEvicted(t *testing.T) {
	fake := engine.NewFake()
	table := session.New(900, 3600)
	lazy := engine.NewLazy(fake)

	containerID, err := fake.Run(context.Background(), engine.RunOptions{})
	require.NoError(t, err)
	table.Insert(session.Record{
		ContainerID:  containerID,
		Persistent:   false,
		TTLSeconds:   1,
		LastActivity: time.Now().Add(-time.Hour),
	})

	r := New(table, lazy, logging.OrNop(nil), nil, 10*time.Millisecond, time.Second)
	r.tick(context.Background())

	_, stillTracked := table.Lookup(containerID)
	assert.True(t, stillTracked)
}

func TestSweep_StopsEveryTrackedSession(t *testing.T) {
	fake := engine.NewFake()
	table := session.New(900, 3600)
	lazy := engine.NewLazy(fake)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := fake.Run(context.Background(), engine.RunOptions{})
		require.NoError(t, err)
		table.Insert(session.Record{ContainerID: id, Persistent: true, TTLSeconds: 900})
		ids = append(ids, id)
	}

	r := New(table, lazy, logging.OrNop(nil), nil, time.Second, time.Second)
	stopped := r.Sweep(context.Background())

	assert.ElementsMatch(t, ids, stopped)
	assert.Equal(t, 0, table.Len())
}

func TestSweep_EngineUnavailableStillUntracksEverything(t *testing.T) {
	fake := engine.NewFake()
	fake.PingErr = assert.AnError
	table := session.New(900, 3600)
	lazy := engine.NewLazy(fake)

	table.Insert(session.Record{ContainerID: "c1", Persistent: true, TTLSeconds: 900})
	table.Insert(session.Record{ContainerID: "c2", Persistent: true, TTLSeconds: 900})

	r := New(table, lazy, logging.OrNop(nil), nil, time.Second, time.Second)
	stopped := r.Sweep(context.Background())

	assert.Len(t, stopped, 2)
	assert.Equal(t, 0, table.Len())
}
