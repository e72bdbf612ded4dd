// Package engine wraps the host container engine behind a small
// capability-set interface (spec §4.2, component C2), grounded on the
// teacher's internal/devops/docker.Client CLI-shellout design.
package engine

import (
	"context"
	"io"
	"time"
)

// RunOptions shape a container creation (spec §4.5.1 step 3).
type RunOptions struct {
	Image       string
	Detach      bool
	TTY         bool
	StdinOpen   bool
	NetworkMode string // "none" or "default"
	Memory      string // e.g. "512m"
	CPUQuota    int64  // microseconds per period
	CPUPeriod   int64  // microseconds
	ReadOnly    bool
	// PortPublish maps container port -> 0 for "pick a random host port".
	PortPublish map[int]int
}

// ExecResult is the outcome of a foreground exec (spec §4.2).
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// ContainerState classifies what Inspect observed (spec §4.5.3).
type ContainerState int

const (
	StateUnknown ContainerState = iota
	StateRunning
	StateExited
	StateNotFound
)

// Client is the capability set the lifecycle controller drives. A test
// double implementing this surface is sufficient to exercise the entire
// core without a real engine (spec §9).
type Client interface {
	// Ping verifies the engine is reachable. Called once by the lazy
	// singleton wrapper; see NewLazy.
	Ping(ctx context.Context) error

	// BuildIfDeclared performs a best-effort build from buildContext.
	// Failures are non-fatal — the existing tagged image may still work.
	BuildIfDeclared(ctx context.Context, image, buildContext string) error

	Run(ctx context.Context, opts RunOptions) (containerID string, err error)

	// InjectFile atomically writes data into path inside the container's
	// filesystem via a transactional archive upload (spec §4.2, §9 —
	// shell heredocs are rejected because they corrupt non-ASCII payloads
	// and race with child-process startup).
	InjectFile(ctx context.Context, containerID, path string, data []byte) error

	Exec(ctx context.Context, containerID string, argv []string, workdir string, timeout time.Duration) (ExecResult, error)

	// ExecDetached fires a command and does not wait for it (used to
	// start ttyd inside the container).
	ExecDetached(ctx context.Context, containerID string, argv []string, asUser string) error

	// Reload refreshes published port information after a detached
	// process may have started listening (e.g. after ExecDetached).
	Reload(ctx context.Context, containerID string) error

	HostPortOf(ctx context.Context, containerID string, containerPort int) (int, bool, error)

	Inspect(ctx context.Context, containerID string) (ContainerState, error)

	Stop(ctx context.Context, containerID string, grace time.Duration) error
	Remove(ctx context.Context, containerID string) error

	// StreamLogs follows a container's combined stdout/stderr, for the
	// live log-streaming endpoint. The returned reader must be closed by
	// the caller to terminate the underlying follow.
	StreamLogs(ctx context.Context, containerID string) (io.ReadCloser, error)
}
