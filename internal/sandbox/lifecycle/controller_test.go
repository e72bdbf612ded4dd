package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-infra/sandboxd/internal/logging"
	"github.com/agent-infra/sandboxd/internal/sandbox/engine"
	"github.com/agent-infra/sandboxd/internal/sandbox/registry"
	"github.com/agent-infra/sandboxd/internal/sandbox/session"
	"github.com/agent-infra/sandboxd/internal/sberrors"
)

func newTestRegistry(t *testing.T, yamlBody string) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
	reg := registry.New(path, logging.OrNop(nil))
	require.NoError(t, reg.Load())
	return reg
}

func newTestController(t *testing.T, yamlBody string) (*Controller, *engine.Fake) {
	t.Helper()
	reg := newTestRegistry(t, yamlBody)
	fake := engine.NewFake()
	lazy := engine.NewLazy(fake)
	table := session.New(900, 3600)
	ctl := New(reg, lazy, table, logging.OrNop(nil), nil, Config{MaxOutputLength: 100})
	return ctl, fake
}

const pythonSandboxYAML = `
containers:
  python-sandbox:
    description: run python
    image: sandboxd/python-sandbox:latest
    security:
      network_mode: none
      read_only: true
    resources:
      memory: 512m
      cpus: 1.0
`

func TestStart_RejectsUnknownProfile(t *testing.T) {
	ctl, _ := newTestController(t, pythonSandboxYAML)
	_, err := ctl.Start(context.Background(), StartRequest{ProfileName: "not-a-profile", KeepAlive: true})
	var profileErr *sberrors.ProfileNotAllowedError
	assert.ErrorAs(t, err, &profileErr)
}

func TestStart_PersistentSessionIsTracked(t *testing.T) {
	ctl, _ := newTestController(t, pythonSandboxYAML)
	result, err := ctl.Start(context.Background(), StartRequest{ProfileName: "python-sandbox", KeepAlive: true, TTLSeconds: 300})
	require.NoError(t, err)
	require.NotEmpty(t, result.ContainerID)
	require.NotNil(t, result.Session)
	assert.Equal(t, 300, result.Session.TTLSeconds)
}

func TestStart_OneShotCollapsesContainerWhenNoExecution(t *testing.T) {
	ctl, fake := newTestController(t, pythonSandboxYAML)
	result, err := ctl.Start(context.Background(), StartRequest{ProfileName: "python-sandbox", KeepAlive: false})
	require.NoError(t, err)
	assert.Nil(t, result.Session)
	assert.Contains(t, fake.StopCalls, result.ContainerID)
	assert.Contains(t, fake.RemoveCalls, result.ContainerID)
}

func TestStart_WithCodeRunsImmediateExecution(t *testing.T) {
	ctl, fake := newTestController(t, pythonSandboxYAML)
	fake.ExecFunc = func(containerID string, argv []string) engine.ExecResult {
		return engine.ExecResult{ExitCode: 0, Stdout: []byte("hello\n")}
	}

	result, err := ctl.Start(context.Background(), StartRequest{ProfileName: "python-sandbox", Code: "print('hello')", KeepAlive: true})
	require.NoError(t, err)
	require.NotNil(t, result.ExecutionResult)
	assert.Equal(t, "hello\n", result.ExecutionResult.Stdout)
}

func TestStart_TTYDRelaxesNoneNetworkPolicy(t *testing.T) {
	ctl, fake := newTestController(t, pythonSandboxYAML)
	fake.HostPorts = map[string]map[int]int{}

	result, err := ctl.Start(context.Background(), StartRequest{ProfileName: "python-sandbox", KeepAlive: true, EnableTTYD: true})
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.True(t, result.Session.NetworkPolicyRelaxed)
}

func TestExec_TouchesSessionAndTruncatesOutput(t *testing.T) {
	ctl, fake := newTestController(t, pythonSandboxYAML)
	result, err := ctl.Start(context.Background(), StartRequest{ProfileName: "python-sandbox", KeepAlive: true})
	require.NoError(t, err)

	longOutput := make([]byte, 500)
	for i := range longOutput {
		longOutput[i] = 'a'
	}
	fake.ExecFunc = func(containerID string, argv []string) engine.ExecResult {
		return engine.ExecResult{ExitCode: 0, Stdout: longOutput}
	}

	before, ok := ctl.table.Lookup(result.ContainerID)
	require.True(t, ok)
	time.Sleep(5 * time.Millisecond)

	execResult, err := ctl.Exec(context.Background(), result.ContainerID, "echo hi", time.Second)
	require.NoError(t, err)
	assert.Len(t, execResult.Stdout, 100)

	after, ok := ctl.table.Lookup(result.ContainerID)
	require.True(t, ok)
	assert.True(t, after.LastActivity.After(before.LastActivity))
}

func TestExec_UnknownContainerReturnsSessionNotFound(t *testing.T) {
	ctl, _ := newTestController(t, pythonSandboxYAML)
	_, err := ctl.Exec(context.Background(), "never-started", "echo hi", time.Second)
	var notFound *sberrors.SessionNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestExec_VanishedContainerReturnsSessionGoneAndUntracks(t *testing.T) {
	ctl, fake := newTestController(t, pythonSandboxYAML)
	result, err := ctl.Start(context.Background(), StartRequest{ProfileName: "python-sandbox", KeepAlive: true})
	require.NoError(t, err)

	fake.VanishContainer(result.ContainerID)

	_, err = ctl.Exec(context.Background(), result.ContainerID, "echo hi", time.Second)
	var gone *sberrors.SessionGoneError
	assert.ErrorAs(t, err, &gone)

	_, err = ctl.GetSession(context.Background(), result.Session.SessionID)
	assert.Error(t, err)
}

func TestStop_AlreadyStoppedIsNotAnError(t *testing.T) {
	ctl, _ := newTestController(t, pythonSandboxYAML)
	stopResult := ctl.Stop(context.Background(), "never-existed")
	assert.Equal(t, StatusAlreadyStopped, stopResult.Status)
}

func TestStop_RunningContainerStopsAndRemoves(t *testing.T) {
	ctl, fake := newTestController(t, pythonSandboxYAML)
	result, err := ctl.Start(context.Background(), StartRequest{ProfileName: "python-sandbox", KeepAlive: true})
	require.NoError(t, err)

	stopResult := ctl.Stop(context.Background(), result.ContainerID)
	assert.Equal(t, StatusStopped, stopResult.Status)
	assert.Contains(t, fake.RemoveCalls, result.ContainerID)
}

func TestExtend_UnknownSessionReturnsError(t *testing.T) {
	ctl, _ := newTestController(t, pythonSandboxYAML)
	_, err := ctl.Extend(context.Background(), "missing", 100)
	var notFound *sberrors.SessionNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestExtend_AddsDeltaAndClamps(t *testing.T) {
	ctl, _ := newTestController(t, pythonSandboxYAML)
	result, err := ctl.Start(context.Background(), StartRequest{ProfileName: "python-sandbox", KeepAlive: true, TTLSeconds: 300})
	require.NoError(t, err)

	newTTL, err := ctl.Extend(context.Background(), result.Session.SessionID, 100)
	require.NoError(t, err)
	assert.Equal(t, 400, newTTL)

	newTTL, err = ctl.Extend(context.Background(), result.Session.SessionID, 10000)
	require.NoError(t, err)
	assert.Equal(t, 3600, newTTL)
}

func TestClose_StopsByContainerAndReportsClosed(t *testing.T) {
	ctl, _ := newTestController(t, pythonSandboxYAML)
	result, err := ctl.Start(context.Background(), StartRequest{ProfileName: "python-sandbox", KeepAlive: true})
	require.NoError(t, err)

	closeResult, err := ctl.Close(context.Background(), result.Session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closeResult.Status)
}

func TestCleanupAll_StopsEverySession(t *testing.T) {
	ctl, fake := newTestController(t, pythonSandboxYAML)
	for i := 0; i < 3; i++ {
		_, err := ctl.Start(context.Background(), StartRequest{ProfileName: "python-sandbox", KeepAlive: true})
		require.NoError(t, err)
	}

	stopped := ctl.CleanupAll(context.Background())
	assert.Len(t, stopped, 3)
	assert.Len(t, fake.RemoveCalls, 3)
}
