package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CLIClient implements Client by shelling out to the docker CLI, exactly
// as the teacher's internal/devops/docker.CLIClient does for its own
// container lifecycle — generalized here to carry resource limits,
// network policy, random port publishing, and archive-based file
// injection, none of which the teacher's sandbox-adjacent service needed.
type CLIClient struct {
	dockerBin string
}

// NewCLIClient resolves the docker binary on PATH, falling back to the
// literal "docker" if it cannot be found (the subsequent Ping will fail
// cleanly in that case).
func NewCLIClient() *CLIClient {
	bin := "docker"
	if p, err := exec.LookPath("docker"); err == nil {
		bin = p
	}
	return &CLIClient{dockerBin: bin}
}

func (c *CLIClient) run(ctx context.Context, stdin []byte, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, c.dockerBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	err := cmd.Run()
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("docker %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

func (c *CLIClient) Ping(ctx context.Context) error {
	_, _, err := c.run(ctx, nil, "version", "--format", "{{.Server.Version}}")
	return err
}

func (c *CLIClient) BuildIfDeclared(ctx context.Context, image, buildContext string) error {
	if buildContext == "" {
		return nil
	}
	_, _, err := c.run(ctx, nil, "build", "-t", image, buildContext)
	return err
}

func (c *CLIClient) Run(ctx context.Context, opts RunOptions) (string, error) {
	args := []string{"run", "-d"}
	if opts.TTY {
		args = append(args, "-t")
	}
	if opts.StdinOpen {
		args = append(args, "-i")
	}
	switch opts.NetworkMode {
	case "none":
		args = append(args, "--network", "none")
	case "", "default":
		// engine default, no flag needed
	default:
		args = append(args, "--network", opts.NetworkMode)
	}
	if opts.ReadOnly {
		args = append(args, "--read-only")
	}
	if opts.Memory != "" {
		args = append(args, "--memory", opts.Memory)
	}
	if opts.CPUQuota > 0 {
		args = append(args, "--cpu-quota", strconv.FormatInt(opts.CPUQuota, 10))
	}
	if opts.CPUPeriod > 0 {
		args = append(args, "--cpu-period", strconv.FormatInt(opts.CPUPeriod, 10))
	}
	for containerPort, hostPort := range opts.PortPublish {
		if hostPort > 0 {
			args = append(args, "-p", fmt.Sprintf("%d:%d", hostPort, containerPort))
		} else {
			// 0 means "let the engine pick a random host port".
			args = append(args, "-p", strconv.Itoa(containerPort))
		}
	}
	args = append(args, opts.Image)

	stdout, _, err := c.run(ctx, nil, args...)
	if err != nil {
		return "", err
	}
	return shortID(strings.TrimSpace(string(stdout))), nil
}

// InjectFile builds an in-memory tar archive containing a single entry at
// the base name of path and streams it to `docker cp - container:dir`,
// which extracts the archive server-side. This is the transactional
// bundle upload spec §4.2/§9 require in place of a shell heredoc: bytes
// survive untouched (no shell quoting), and the write is atomic from the
// child process's point of view.
func (c *CLIClient) InjectFile(ctx context.Context, containerID, path string, data []byte) error {
	dir := "/"
	name := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		dir = path[:idx]
		if dir == "" {
			dir = "/"
		}
		name = path[idx+1:]
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("build injection archive: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("build injection archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("build injection archive: %w", err)
	}

	_, _, err := c.run(ctx, buf.Bytes(), "cp", "-", containerID+":"+dir)
	return err
}

func (c *CLIClient) Exec(ctx context.Context, containerID string, argv []string, workdir string, timeout time.Duration) (ExecResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := []string{"exec"}
	if workdir != "" {
		args = append(args, "-w", workdir)
	}
	args = append(args, containerID)
	args = append(args, argv...)

	cmd := exec.CommandContext(ctx, c.dockerBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return ExecResult{}, err
		}
	}
	return ExecResult{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func (c *CLIClient) ExecDetached(ctx context.Context, containerID string, argv []string, asUser string) error {
	args := []string{"exec", "-d"}
	if asUser != "" {
		args = append(args, "-u", asUser)
	}
	args = append(args, containerID)
	args = append(args, argv...)
	_, _, err := c.run(ctx, nil, args...)
	return err
}

func (c *CLIClient) Reload(ctx context.Context, containerID string) error {
	// The CLI reads live state on every `docker port` call, so there is
	// nothing to refresh; this exists to satisfy Client's contract with
	// engines (e.g. a long-lived API client) that cache port state.
	return nil
}

func (c *CLIClient) HostPortOf(ctx context.Context, containerID string, containerPort int) (int, bool, error) {
	stdout, _, err := c.run(ctx, nil, "port", containerID, strconv.Itoa(containerPort))
	if err != nil {
		return 0, false, nil
	}
	line := strings.TrimSpace(strings.SplitN(string(stdout), "\n", 2)[0])
	parts := strings.Split(line, ":")
	if len(parts) == 0 {
		return 0, false, nil
	}
	portStr := parts[len(parts)-1]
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, false, nil
	}
	return port, true, nil
}

func (c *CLIClient) Inspect(ctx context.Context, containerID string) (ContainerState, error) {
	stdout, _, err := c.run(ctx, nil, "inspect", containerID)
	if err != nil {
		if strings.Contains(err.Error(), "No such") {
			return StateNotFound, nil
		}
		return StateUnknown, err
	}
	var inspections []struct {
		State struct {
			Running bool `json:"Running"`
			Status  string `json:"Status"`
		} `json:"State"`
	}
	if jsonErr := json.Unmarshal(stdout, &inspections); jsonErr != nil {
		return StateUnknown, fmt.Errorf("parse inspect output: %w", jsonErr)
	}
	if len(inspections) == 0 {
		return StateNotFound, nil
	}
	if inspections[0].State.Running {
		return StateRunning, nil
	}
	return StateExited, nil
}

func (c *CLIClient) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	args := []string{"stop"}
	if grace > 0 {
		args = append(args, "-t", strconv.Itoa(int(grace.Seconds())))
	}
	args = append(args, containerID)
	_, _, err := c.run(ctx, nil, args...)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

func (c *CLIClient) Remove(ctx context.Context, containerID string) error {
	_, _, err := c.run(ctx, nil, "rm", "-f", containerID)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

// logFollower wraps the docker logs -f subprocess's stdout so that
// Close also terminates the child process, rather than leaving it
// running after the caller stops reading.
type logFollower struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (f *logFollower) Close() error {
	err := f.ReadCloser.Close()
	if f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
	_ = f.cmd.Wait()
	return err
}

func (c *CLIClient) StreamLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, c.dockerBin, "logs", "-f", "--tail", "100", containerID)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stream logs for %s: %w", containerID, err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("stream logs for %s: %w", containerID, err)
	}
	return &logFollower{ReadCloser: stdout, cmd: cmd}, nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no such container")
}

// shortID returns the engine's short-form container handle (spec §3:
// SessionRecord.container_id is the "short form").
func shortID(full string) string {
	if len(full) > 12 {
		return full[:12]
	}
	return full
}
