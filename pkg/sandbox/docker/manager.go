package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/nstogner/tiered/pkg/sandbox"
)

const (
	// DefaultImage is used when no image is configured.
	DefaultImage = "python:3.12-slim"

	// LabelManager marks containers owned by this process family.
	LabelManager      = "manager"
	LabelManagerValue = "tiered"
	// LabelSessionID records which chat session a container serves.
	LabelSessionID = "tiered-session-id"

	DefaultTimeout  = 30 * time.Second
	DefaultMemory   = 256 << 20
	DefaultNanoCPUs = 1_000_000_000

	// maxOutput bounds each captured stream.
	maxOutput = 64 << 10
)

// DockerManager implements sandbox.Runner using one long-lived container per
// session. Code is executed with `docker exec`; the container has no network.
type DockerManager struct {
	cli      *client.Client
	image    string
	timeout  time.Duration
	memory   int64
	nanoCPUs int64

	// mu serializes container creation per manager.
	mu sync.Mutex
}

// Ensure DockerManager implements sandbox.Runner
var _ sandbox.Runner = (*DockerManager)(nil)

type Option func(*DockerManager)

func WithImage(image string) Option {
	return func(m *DockerManager) {
		if image != "" {
			m.image = image
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(m *DockerManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithLimits(memoryBytes, nanoCPUs int64) Option {
	return func(m *DockerManager) {
		if memoryBytes > 0 {
			m.memory = memoryBytes
		}
		if nanoCPUs > 0 {
			m.nanoCPUs = nanoCPUs
		}
	}
}

// New creates a new DockerManager.
func New(opts ...Option) (*DockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	m := &DockerManager{
		cli:      cli,
		image:    DefaultImage,
		timeout:  DefaultTimeout,
		memory:   DefaultMemory,
		nanoCPUs: DefaultNanoCPUs,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *DockerManager) Close() error {
	return m.cli.Close()
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

func containerName(sessionID string) string {
	return "tiered-sandbox-" + unsafeName.ReplaceAllString(sessionID, "_")
}

// RunPython runs code with `python3 -c` inside the session's container.
// A non-zero exit status is reported through Result, not as an error.
func (m *DockerManager) RunPython(ctx context.Context, sessionID string, code string) (*sandbox.Result, error) {
	id, err := m.ensureRunning(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	exec, err := m.cli.ContainerExecCreate(runCtx, id, types.ExecConfig{
		Cmd:          []string{"timeout", "--signal=KILL", fmt.Sprintf("%d", int(m.timeout.Seconds())), "python3", "-c", code},
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   "/tmp",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	hijacked, err := m.cli.ContainerExecAttach(runCtx, exec.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer hijacked.Close()

	stdout := &limitedBuffer{limit: maxOutput}
	stderr := &limitedBuffer{limit: maxOutput}
	copyErr := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, hijacked.Reader)
		copyErr <- err
	}()

	res := &sandbox.Result{}
	select {
	case err := <-copyErr:
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read exec output: %w", err)
		}
	case <-runCtx.Done():
		hijacked.Close()
		<-copyErr
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.TimedOut = true
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if res.TimedOut {
		res.ExitCode = -1
		return res, nil
	}

	status, err := m.exitCode(ctx, exec.ID)
	if err != nil {
		return nil, err
	}
	res.ExitCode = status
	// 137 is what `timeout --signal=KILL` leaves behind.
	if status == 137 {
		res.TimedOut = true
	}
	return res, nil
}

// exitCode waits briefly for the exec to be reported as finished.
func (m *DockerManager) exitCode(ctx context.Context, execID string) (int, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		ins, err := m.cli.ContainerExecInspect(ctx, execID)
		if err != nil {
			return 0, fmt.Errorf("failed to inspect exec: %w", err)
		}
		if !ins.Running || i >= 40 {
			return ins.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *DockerManager) Stop(ctx context.Context, sessionID string) error {
	err := m.cli.ContainerRemove(ctx, containerName(sessionID), types.ContainerRemoveOptions{
		Force: true,
	})
	if client.IsErrNotFound(err) {
		return nil
	}
	return err
}

// StopAll removes every sandbox container created by any manager.
func (m *DockerManager) StopAll(ctx context.Context) error {
	containers, err := m.cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManager+"="+LabelManagerValue)),
	})
	if err != nil {
		return fmt.Errorf("failed to list sandboxes: %w", err)
	}
	var errs []error
	for _, c := range containers {
		slog.Info("Removing sandbox", "sessionID", c.Labels[LabelSessionID], "id", c.ID)
		if err := m.cli.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ensureRunning checks if the container is running, starts it if not, and returns its ID.
func (m *DockerManager) ensureRunning(ctx context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := containerName(sessionID)
	c, err := m.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return m.createAndStart(ctx, sessionID)
		}
		return "", fmt.Errorf("failed to inspect container: %w", err)
	}
	if c.State != nil && c.State.Running {
		return c.ID, nil
	}

	if err := m.cli.ContainerStart(ctx, c.ID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	return c.ID, nil
}

func (m *DockerManager) createAndStart(ctx context.Context, sessionID string) (string, error) {
	if err := m.ensureImage(ctx); err != nil {
		return "", err
	}

	cfg := &container.Config{
		Image:           m.image,
		Cmd:             []string{"sleep", "infinity"},
		NetworkDisabled: true,
		Labels: map[string]string{
			LabelManager:   LabelManagerValue,
			LabelSessionID: sessionID,
		},
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   m.memory,
			NanoCPUs: m.nanoCPUs,
		},
	}

	name := containerName(sessionID)
	resp, err := m.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	if err := m.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	slog.Info("Sandbox started", "sessionID", sessionID, "image", m.image, "id", resp.ID)
	return resp.ID, nil
}

func (m *DockerManager) ensureImage(ctx context.Context) error {
	_, _, err := m.cli.ImageInspectWithRaw(ctx, m.image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image %q: %w", m.image, err)
	}

	slog.Info("Pulling sandbox image", "image", m.image)
	rc, err := m.cli.ImagePull(ctx, m.image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %q: %w", m.image, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %q: %w", m.image, err)
	}
	return nil
}

// limitedBuffer keeps the first limit bytes written and drops the rest.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	s := b.buf.String()
	if b.truncated {
		s = strings.TrimRight(s, "\n") + "\n... (output truncated)"
	}
	return s
}
