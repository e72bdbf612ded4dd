package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-infra/sandboxd/internal/sberrors"
)

func TestLazy_PingsOnceAndCachesUnavailability(t *testing.T) {
	fake := NewFake()
	fake.PingErr = errors.New("connection refused")
	lazy := NewLazy(fake)

	_, err1 := lazy.Client(context.Background())
	// A second ping would now succeed; the latch must not issue one.
	fake.PingErr = nil
	_, err2 := lazy.Client(context.Background())

	var unavailable *sberrors.EngineUnavailableError
	require.ErrorAs(t, err1, &unavailable)
	require.ErrorAs(t, err2, &unavailable)
	assert.False(t, lazy.Available())
}

func TestLazy_AvailableAfterSuccessfulPing(t *testing.T) {
	fake := NewFake()
	lazy := NewLazy(fake)

	client, err := lazy.Client(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.True(t, lazy.Available())
}

func TestLazy_ResetAllowsRecheckAfterOutage(t *testing.T) {
	fake := NewFake()
	fake.PingErr = errors.New("down")
	lazy := NewLazy(fake)

	_, err := lazy.Client(context.Background())
	require.Error(t, err)

	fake.PingErr = nil
	lazy.Reset()

	_, err = lazy.Client(context.Background())
	require.NoError(t, err)
	assert.True(t, lazy.Available())
}
