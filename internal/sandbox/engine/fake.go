package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Fake is a hand-rolled test double implementing Client, in the same
// style as the teacher's stubSandboxDockerController
// (internal/tools/sandbox_manager_test.go) — a small struct with public
// knobs and call counters, not a generated mock.
type Fake struct {
	mu sync.Mutex

	PingErr error

	containers map[string]*fakeContainer
	nextID     int

	ExecFunc func(containerID string, argv []string) ExecResult
	HostPorts map[string]map[int]int

	BuildCalls []string
	StopCalls  []string
	RemoveCalls []string
}

type fakeContainer struct {
	state       ContainerState
	injected    map[string][]byte
	ports       map[int]int
}

// NewFake returns a ready-to-use Fake engine.
func NewFake() *Fake {
	return &Fake{containers: map[string]*fakeContainer{}, HostPorts: map[string]map[int]int{}}
}

func (f *Fake) Ping(ctx context.Context) error { return f.PingErr }

func (f *Fake) BuildIfDeclared(ctx context.Context, image, buildContext string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if buildContext != "" {
		f.BuildCalls = append(f.BuildCalls, image)
	}
	return nil
}

func (f *Fake) Run(ctx context.Context, opts RunOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("fake%06d", f.nextID)
	ports := map[int]int{}
	for containerPort, hostPort := range opts.PortPublish {
		if hostPort == 0 {
			hostPort = 30000 + f.nextID
		}
		ports[containerPort] = hostPort
	}
	f.containers[id] = &fakeContainer{state: StateRunning, injected: map[string][]byte{}, ports: ports}
	f.HostPorts[id] = ports
	return id, nil
}

func (f *Fake) InjectFile(ctx context.Context, containerID, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return fmt.Errorf("no such container: %s", containerID)
	}
	c.injected[path] = append([]byte(nil), data...)
	return nil
}

// Injected returns the bytes last written to path inside containerID, for
// test assertions.
func (f *Fake) Injected(containerID, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return nil, false
	}
	data, ok := c.injected[path]
	return data, ok
}

func (f *Fake) Exec(ctx context.Context, containerID string, argv []string, workdir string, timeout time.Duration) (ExecResult, error) {
	f.mu.Lock()
	c, ok := f.containers[containerID]
	execFn := f.ExecFunc
	f.mu.Unlock()
	if !ok || c.state != StateRunning {
		return ExecResult{}, fmt.Errorf("no such container: %s", containerID)
	}
	if execFn != nil {
		return execFn(containerID, argv), nil
	}
	return ExecResult{ExitCode: 0, Stdout: []byte("ok\n")}, nil
}

func (f *Fake) ExecDetached(ctx context.Context, containerID string, argv []string, asUser string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[containerID]; !ok {
		return fmt.Errorf("no such container: %s", containerID)
	}
	return nil
}

func (f *Fake) Reload(ctx context.Context, containerID string) error { return nil }

func (f *Fake) HostPortOf(ctx context.Context, containerID string, containerPort int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return 0, false, nil
	}
	p, ok := c.ports[containerPort]
	return p, ok, nil
}

func (f *Fake) Inspect(ctx context.Context, containerID string) (ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return StateNotFound, nil
	}
	return c.state, nil
}

func (f *Fake) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StopCalls = append(f.StopCalls, containerID)
	c, ok := f.containers[containerID]
	if !ok {
		return nil
	}
	c.state = StateExited
	return nil
}

func (f *Fake) Remove(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RemoveCalls = append(f.RemoveCalls, containerID)
	delete(f.containers, containerID)
	return nil
}

// StreamLogs returns a canned reader holding one fixed line; its Close is
// a no-op.
func (f *Fake) StreamLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	f.mu.Lock()
	_, ok := f.containers[containerID]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no such container: %s", containerID)
	}
	return io.NopCloser(strings.NewReader("fake log output\n")), nil
}

// VanishContainer simulates the engine losing a container out from under
// us (spec invariant 4): subsequent Inspect/Exec report it gone.
func (f *Fake) VanishContainer(containerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, containerID)
}
