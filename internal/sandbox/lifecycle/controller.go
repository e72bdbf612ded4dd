// Package lifecycle implements the Lifecycle Controller (spec §4.5,
// component C5): it orchestrates the registry, engine client, and
// session table, enforces security policy, and returns normalized
// outcomes and typed errors (spec §7).
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agent-infra/sandboxd/internal/logging"
	"github.com/agent-infra/sandboxd/internal/sandbox/engine"
	"github.com/agent-infra/sandboxd/internal/sandbox/registry"
	"github.com/agent-infra/sandboxd/internal/sandbox/session"
	"github.com/agent-infra/sandboxd/internal/sberrors"
)

// Metrics is the narrow surface the controller reports through;
// implemented by internal/telemetry against prometheus/client_golang.
type Metrics interface {
	SetActiveSessions(n int)
	ObserveExecDuration(seconds float64)
	IncEngineError(operation string)
}

type nopMetrics struct{}

func (nopMetrics) SetActiveSessions(int)       {}
func (nopMetrics) ObserveExecDuration(float64) {}
func (nopMetrics) IncEngineError(string)       {}

const (
	ttydContainerPort = 7681
	workspaceDir      = "/workspace"
	codeFilePath      = workspaceDir + "/code.py"

	defaultStartTimeout = 60 * time.Second
	defaultExecTimeout  = 30 * time.Second
	stopGrace           = 5 * time.Second
)

// Controller is the Lifecycle Controller (C5).
type Controller struct {
	registry  *registry.Registry
	engine    *engine.Lazy
	table     *session.Table
	logger    logging.Logger
	metrics   Metrics
	tracer    trace.Tracer
	maxOutput int
}

// Config carries the operator-tunable knobs from spec §6 "Configuration".
type Config struct {
	MaxOutputLength int
}

// New builds a Controller.
func New(reg *registry.Registry, eng *engine.Lazy, table *session.Table, logger logging.Logger, metrics Metrics, cfg Config) *Controller {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	maxOutput := cfg.MaxOutputLength
	if maxOutput <= 0 {
		maxOutput = 10000
	}
	return &Controller{
		registry:  reg,
		engine:    eng,
		table:     table,
		logger:    logging.OrNop(logger),
		metrics:   metrics,
		tracer:    otel.Tracer("sandbox-lifecycle"),
		maxOutput: maxOutput,
	}
}

func (c *Controller) truncate(s string) string {
	if len(s) <= c.maxOutput {
		return s
	}
	return s[:c.maxOutput]
}

// Start implements spec §4.5.1.
func (c *Controller) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.Start", trace.WithAttributes(attribute.String("sandbox.profile", req.ProfileName)))
	defer span.End()

	// 1. Authorize.
	profile, ok := c.registry.Get(req.ProfileName)
	if !ok {
		err := &sberrors.ProfileNotAllowedError{Profile: req.ProfileName}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StartResult{}, err
	}

	client, err := c.engine.Client(ctx)
	if err != nil {
		span.RecordError(err)
		return StartResult{}, err
	}

	// 2. Build opportunistically.
	if buildErr := client.BuildIfDeclared(ctx, profile.Image, profile.BuildContext); buildErr != nil {
		c.logger.Warn("build for profile %s failed (non-fatal, existing image may still work): %v", profile.Name, buildErr)
	}

	// 3. Shape options.
	opts := engine.RunOptions{
		Image:       profile.Image,
		Detach:      true,
		TTY:         true,
		StdinOpen:   true,
		NetworkMode: profile.Security.NetworkMode,
		ReadOnly:    profile.Security.ReadOnly,
	}
	if profile.Resources.Memory != "" {
		opts.Memory = profile.Resources.Memory
	}
	if profile.Resources.CPUs > 0 {
		opts.CPUQuota = int64(profile.Resources.CPUs * 100000)
		opts.CPUPeriod = 100000
	}

	// 4. ttyd override: network policy relaxed if profile said "none".
	networkRelaxed := false
	if req.EnableTTYD {
		if opts.NetworkMode == "none" {
			opts.NetworkMode = "default"
			networkRelaxed = true
		}
		opts.PortPublish = map[int]int{ttydContainerPort: 0}
	}

	startTimeout := req.Timeout
	if startTimeout <= 0 {
		startTimeout = defaultStartTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	containerID, err := client.Run(runCtx, opts)
	if err != nil {
		c.metrics.IncEngineError("run")
		wrapped := classifyStartFailure(profile, err)
		span.RecordError(wrapped)
		return StartResult{}, wrapped
	}

	// 6. Build session record.
	rec := session.Record{
		ContainerID:          containerID,
		ProfileName:          profile.Name,
		Profile:              profile,
		Persistent:           req.KeepAlive,
		TTLSeconds:           req.TTLSeconds,
		TTYDEnabled:          req.EnableTTYD,
		NetworkPolicyRelaxed: networkRelaxed,
	}

	// 7. ttyd bring-up (logged, non-fatal on failure).
	if req.EnableTTYD {
		c.bringUpTTYD(ctx, client, &rec)
	}

	// 8. Record.
	rec = c.table.Insert(rec)
	c.metrics.SetActiveSessions(c.table.Len())

	result := StartResult{ContainerID: containerID}

	// 9. Optional immediate exec (code is canonical; command is ignored
	// per spec §4.5.1 tie-break "code and command may be ignored
	// together on start").
	ranExecution := false
	if req.Code != "" {
		execResult, execErr := c.runCode(ctx, client, containerID, req.Code, req.Timeout)
		if execErr != nil {
			span.RecordError(execErr)
			return StartResult{}, execErr
		}
		result.ExecutionResult = &execResult
		ranExecution = true
	}

	// 10. One-shot collapse: a keep_alive=false start must also be
	// cleaned when no execution ran at all (spec §9 Open Question (c) —
	// the source only cleaned up when an execution produced a result;
	// this implementation fixes that leak).
	if !req.KeepAlive {
		if stopErr := client.Stop(ctx, containerID, stopGrace); stopErr != nil {
			c.logger.Warn("one-shot cleanup: stop %s failed (swallowed): %v", containerID, stopErr)
		}
		if rmErr := client.Remove(ctx, containerID); rmErr != nil {
			c.logger.Warn("one-shot cleanup: remove %s failed (swallowed): %v", containerID, rmErr)
		}
		c.table.Remove(containerID)
		c.metrics.SetActiveSessions(c.table.Len())
		result.Session = nil
		_ = ranExecution
		return result, nil
	}

	// 11. Response includes the session sub-object when persistent.
	info := c.toSessionInfo(rec)
	result.Session = &info
	return result, nil
}

func classifyStartFailure(profile registry.Profile, err error) error {
	// docker reports a missing image distinctly from other run failures;
	// the CLI surfaces this as "No such image" or "manifest unknown" in
	// the wrapped error text.
	msg := err.Error()
	if containsAny(msg, "no such image", "manifest unknown", "pull access denied", "not found: manifest") {
		return &sberrors.ImageMissingError{Image: profile.Image, Err: err}
	}
	return &sberrors.StartFailedError{Err: err}
}

func containsAny(haystack string, needles ...string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

func (c *Controller) bringUpTTYD(ctx context.Context, client engine.Client, rec *session.Record) {
	if err := client.ExecDetached(ctx, rec.ContainerID, []string{"ttyd", "-W", "-p", "7681", "bash"}, "root"); err != nil {
		c.logger.Warn("ttyd bring-up failed for %s (non-fatal): %v", rec.ContainerID, err)
		return
	}
	if err := client.Reload(ctx, rec.ContainerID); err != nil {
		c.logger.Warn("ttyd port reload failed for %s (non-fatal): %v", rec.ContainerID, err)
		return
	}
	port, ok, err := client.HostPortOf(ctx, rec.ContainerID, ttydContainerPort)
	if err != nil || !ok {
		c.logger.Warn("ttyd host port lookup failed for %s (non-fatal): %v", rec.ContainerID, err)
		return
	}
	rec.TTYDHostPort = port
	rec.TTYDURL = fmt.Sprintf("http://localhost:%d", port)
}

func (c *Controller) runCode(ctx context.Context, client engine.Client, containerID, code string, timeout time.Duration) (ExecutionResult, error) {
	if err := client.InjectFile(ctx, containerID, codeFilePath, []byte(code)); err != nil {
		return ExecutionResult{}, &sberrors.ExecFailedError{Err: err}
	}
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	start := time.Now()
	res, err := client.Exec(ctx, containerID, []string{"python", codeFilePath}, workspaceDir, timeout)
	c.metrics.ObserveExecDuration(time.Since(start).Seconds())
	if err != nil {
		return ExecutionResult{}, &sberrors.ExecFailedError{Err: err}
	}
	return ExecutionResult{
		ExitCode: res.ExitCode,
		Stdout:   c.truncate(string(res.Stdout)),
		Stderr:   c.truncate(string(res.Stderr)),
	}, nil
}

func (c *Controller) toSessionInfo(rec session.Record) SessionInfo {
	return SessionInfo{
		SessionID:            rec.SessionID,
		Persistent:           rec.Persistent,
		TTLSeconds:           rec.TTLSeconds,
		RemainingSeconds:     rec.RemainingSeconds(time.Now()),
		TTYDURL:              rec.TTYDURL,
		NetworkPolicyRelaxed: rec.NetworkPolicyRelaxed,
	}
}

// Exec implements spec §4.5.2.
func (c *Controller) Exec(ctx context.Context, containerID, command string, timeout time.Duration) (ExecutionResult, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.Exec", trace.WithAttributes(attribute.String("sandbox.container_id", containerID)))
	defer span.End()

	if !c.table.Touch(containerID) {
		err := &sberrors.SessionNotFoundError{ID: containerID}
		span.RecordError(err)
		return ExecutionResult{}, err
	}

	client, err := c.engine.Client(ctx)
	if err != nil {
		span.RecordError(err)
		return ExecutionResult{}, err
	}

	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	start := time.Now()
	res, err := client.Exec(ctx, containerID, shellCommand(command), workspaceDir, timeout)
	c.metrics.ObserveExecDuration(time.Since(start).Seconds())
	if err != nil {
		if state, inspectErr := client.Inspect(ctx, containerID); inspectErr == nil && state == engine.StateNotFound {
			c.table.Remove(containerID)
			goneErr := &sberrors.SessionGoneError{ContainerID: containerID}
			span.RecordError(goneErr)
			return ExecutionResult{}, goneErr
		}
		c.metrics.IncEngineError("exec")
		wrapped := &sberrors.ExecFailedError{Err: err}
		span.RecordError(wrapped)
		return ExecutionResult{}, wrapped
	}

	return ExecutionResult{
		ExitCode: res.ExitCode,
		Stdout:   c.truncate(string(res.Stdout)),
		Stderr:   c.truncate(string(res.Stderr)),
	}, nil
}

func shellCommand(command string) []string {
	return []string{"sh", "-c", command}
}

// Stop implements spec §4.5.3. It never returns an error solely because
// the container is already gone (invariant I6).
func (c *Controller) Stop(ctx context.Context, containerID string) StopResult {
	ctx, span := c.tracer.Start(ctx, "lifecycle.Stop", trace.WithAttributes(attribute.String("sandbox.container_id", containerID)))
	defer span.End()

	client, err := c.engine.Client(ctx)
	if err != nil {
		c.table.Remove(containerID)
		c.metrics.SetActiveSessions(c.table.Len())
		return StopResult{ContainerID: containerID, Status: StatusNoDocker, Message: err.Error()}
	}

	state, inspectErr := client.Inspect(ctx, containerID)
	if inspectErr != nil {
		c.metrics.IncEngineError("inspect")
		c.table.Remove(containerID)
		c.metrics.SetActiveSessions(c.table.Len())
		span.RecordError(inspectErr)
		return StopResult{ContainerID: containerID, Status: StatusErrorButCleaned, Message: inspectErr.Error()}
	}

	defer func() {
		c.table.Remove(containerID)
		c.metrics.SetActiveSessions(c.table.Len())
	}()

	switch state {
	case engine.StateNotFound:
		return StopResult{ContainerID: containerID, Status: StatusAlreadyStopped}
	case engine.StateRunning:
		if stopErr := client.Stop(ctx, containerID, stopGrace); stopErr != nil {
			c.metrics.IncEngineError("stop")
			_ = client.Remove(ctx, containerID)
			return StopResult{ContainerID: containerID, Status: StatusErrorButCleaned, Message: stopErr.Error()}
		}
		_ = client.Remove(ctx, containerID)
		return StopResult{ContainerID: containerID, Status: StatusStopped}
	default: // exited/dead
		_ = client.Remove(ctx, containerID) // tolerate failure
		return StopResult{ContainerID: containerID, Status: StatusStopped}
	}
}

// Extend implements spec §4.5.4.
func (c *Controller) Extend(ctx context.Context, sessionID string, delta int) (int, error) {
	newTTL, ok := c.table.Extend(sessionID, delta)
	if !ok {
		return 0, &sberrors.SessionNotFoundError{ID: sessionID}
	}
	return newTTL, nil
}

// Close implements spec §4.5.5.
func (c *Controller) Close(ctx context.Context, sessionID string) (StopResult, error) {
	containerID, _, ok := c.table.BySession(sessionID)
	if !ok {
		return StopResult{}, &sberrors.SessionNotFoundError{ID: sessionID}
	}
	result := c.Stop(ctx, containerID)
	result.Status = StatusClosed
	return result, nil
}

// Status implements spec §4.5.6 for /containers/status and /sessions.
// A record whose container no longer exists is purged in the same pass.
func (c *Controller) Status(ctx context.Context) []SessionInfo {
	client, err := c.engine.Client(ctx)
	snapshot := c.table.Snapshot()
	out := make([]SessionInfo, 0, len(snapshot))
	purged := 0
	for _, rec := range snapshot {
		if err == nil {
			if state, inspectErr := client.Inspect(ctx, rec.ContainerID); inspectErr == nil && state == engine.StateNotFound {
				c.table.Remove(rec.ContainerID)
				purged++
				continue
			}
		}
		out = append(out, c.toSessionInfo(rec))
	}
	if purged > 0 {
		c.metrics.SetActiveSessions(c.table.Len())
	}
	return out
}

// GetSession implements spec §4.5.6 for GET /sessions/{id}.
func (c *Controller) GetSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	containerID, rec, ok := c.table.BySession(sessionID)
	if !ok {
		return SessionInfo{}, &sberrors.SessionNotFoundError{ID: sessionID}
	}

	if client, err := c.engine.Client(ctx); err == nil {
		if state, inspectErr := client.Inspect(ctx, containerID); inspectErr == nil && state == engine.StateNotFound {
			c.table.Remove(containerID)
			c.metrics.SetActiveSessions(c.table.Len())
			return SessionInfo{}, &sberrors.SessionNotFoundError{ID: sessionID}
		}
	}

	return c.toSessionInfo(rec), nil
}

// CleanupAll implements spec §4.5.7: sweep every tracked record through
// stop+remove+untrack, returning the ids successfully stopped.
func (c *Controller) CleanupAll(ctx context.Context) []string {
	snapshot := c.table.Snapshot()
	var stopped []string
	for _, rec := range snapshot {
		result := c.Stop(ctx, rec.ContainerID)
		if result.Status == StatusStopped || result.Status == StatusAlreadyStopped {
			stopped = append(stopped, rec.ContainerID)
		}
	}
	return stopped
}

// StreamContainerLogs opens a live follow of containerID's combined
// output, for the supplemental websocket log endpoint.
func (c *Controller) StreamContainerLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	client, err := c.engine.Client(ctx)
	if err != nil {
		return nil, err
	}
	reader, err := client.StreamLogs(ctx, containerID)
	if err != nil {
		return nil, &sberrors.SessionGoneError{ContainerID: containerID}
	}
	return reader, nil
}

// Profiles returns the registry catalog for GET /containers.
func (c *Controller) Profiles() []registry.Profile {
	return c.registry.List()
}

// EngineHealthy reports the engine connectivity state for GET /health,
// forcing the lazy singleton's one-time ping if it has not run yet.
func (c *Controller) EngineHealthy() bool {
	_, err := c.engine.Client(context.Background())
	return err == nil
}
