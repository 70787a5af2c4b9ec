package defra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	DefaultImage         = "sourcenetwork/defradb:latest"
	DefaultContainerName = "qforge-defra"
	DefaultPort          = "9181"
	ContainerPort        = "9181/tcp"
	DataDir              = "/data"
	Label                = "qforge-defra"

	// DefaultReadyTimeout bounds how long Start waits for the health check.
	DefaultReadyTimeout = 30 * time.Second

	stopGraceSeconds = 10
)

// ContainerStatus represents the state of the DefraDB container.
type ContainerStatus string

const (
	StatusRunning   ContainerStatus = "running"
	StatusStopped   ContainerStatus = "stopped"
	StatusNotFound  ContainerStatus = "not_found"
	StatusUnhealthy ContainerStatus = "unhealthy"
	StatusStarting  ContainerStatus = "starting"
)

// errNoContainer is returned by operations that need an existing container.
var errNoContainer = errors.New("container not found")

// DockerConfig holds configuration for the Docker manager.
type DockerConfig struct {
	ContainerName string
	Image         string
	DataPath      string // host directory bind-mounted at DataDir; empty keeps data in the container
	HostPort      string
	Labels        map[string]string // extra labels, merged over the qforge label
	ReadyTimeout  time.Duration
}

func (c *DockerConfig) applyDefaults() {
	if c.ContainerName == "" {
		c.ContainerName = DefaultContainerName
	}
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.HostPort == "" {
		c.HostPort = DefaultPort
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	labels := map[string]string{Label: "true"}
	maps.Copy(labels, c.Labels)
	c.Labels = labels
}

// DockerManager runs the DefraDB container that backs the defra store.
type DockerManager struct {
	cli *client.Client
	cfg DockerConfig
}

// NewDockerManager creates a manager using the docker daemon from the environment.
func NewDockerManager(cfg DockerConfig) (*DockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	cfg.applyDefaults()
	return &DockerManager{cli: cli, cfg: cfg}, nil
}

// Close releases the docker client. It does not touch the container.
func (m *DockerManager) Close() error {
	return m.cli.Close()
}

// URL is the DefraDB API address on the host.
func (m *DockerManager) URL() string {
	return "http://" + net.JoinHostPort("localhost", m.cfg.HostPort)
}

// found is the container matching the configured name, if any.
type found struct {
	id     string
	status ContainerStatus
}

func (m *DockerManager) lookup(ctx context.Context) (found, error) {
	// Docker name filters are substring matches; anchor on the full name.
	args := filters.NewArgs(filters.Arg("name", "^/"+m.cfg.ContainerName+"$"))
	list, err := m.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return found{}, fmt.Errorf("list containers: %w", err)
	}
	if len(list) == 0 {
		return found{status: StatusNotFound}, nil
	}

	c := list[0]
	f := found{id: c.ID}
	switch c.State {
	case "running":
		f.status = StatusRunning
	case "exited", "dead":
		f.status = StatusStopped
	case "created", "restarting":
		f.status = StatusStarting
	default:
		f.status = ContainerStatus(c.State)
	}
	return f, nil
}

// Status returns the current status of the DefraDB container.
func (m *DockerManager) Status(ctx context.Context) (ContainerStatus, error) {
	f, err := m.lookup(ctx)
	return f.status, err
}

// Start brings the container up, creating it (and pulling the image) when
// missing, then waits for the health check. Starting a running container is
// a no-op.
func (m *DockerManager) Start(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}

	f, err := m.lookup(ctx)
	if err != nil {
		return err
	}
	switch f.status {
	case StatusRunning:
		return nil
	case StatusNotFound:
		if f.id, err = m.create(ctx); err != nil {
			return err
		}
	case StatusStopped:
	default:
		return fmt.Errorf("container %s is %s", m.cfg.ContainerName, f.status)
	}

	if err := m.cli.ContainerStart(ctx, f.id, container.StartOptions{}); err != nil {
		if f.status == StatusNotFound {
			_ = m.cli.ContainerRemove(ctx, f.id, container.RemoveOptions{Force: true})
		}
		return fmt.Errorf("start container: %w", err)
	}
	return m.WaitReady(ctx, m.cfg.ReadyTimeout)
}

// EnsureRunning checks an existing container against the configuration and
// starts it.
func (m *DockerManager) EnsureRunning(ctx context.Context) error {
	if err := m.ValidateExisting(ctx); err != nil {
		return fmt.Errorf("existing container %s: %w", m.cfg.ContainerName, err)
	}
	return m.Start(ctx)
}

// Stop stops the container. A missing or stopped container is not an error.
func (m *DockerManager) Stop(ctx context.Context) error {
	f, err := m.lookup(ctx)
	if err != nil || f.status == StatusNotFound || f.status == StatusStopped {
		return err
	}
	grace := stopGraceSeconds
	if err := m.cli.ContainerStop(ctx, f.id, container.StopOptions{Timeout: &grace}); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}
	return nil
}

// Remove stops and deletes the container and its anonymous volumes. The
// bind-mounted data directory is left on disk.
func (m *DockerManager) Remove(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil {
		return err
	}
	f, err := m.lookup(ctx)
	if err != nil || f.status == StatusNotFound {
		return err
	}
	if err := m.cli.ContainerRemove(ctx, f.id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Logs returns the last tail lines of container output ("all" for everything).
func (m *DockerManager) Logs(ctx context.Context, tail string) (string, error) {
	f, err := m.lookup(ctx)
	if err != nil {
		return "", err
	}
	if f.status == StatusNotFound {
		return "", errNoContainer
	}

	rc, err := m.cli.ContainerLogs(ctx, f.id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: tail})
	if err != nil {
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()

	out, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read container logs: %w", err)
	}
	return string(out), nil
}

// ValidateExisting checks that an existing container publishes the
// configured port and mounts the configured data directory. A missing
// container is valid.
func (m *DockerManager) ValidateExisting(ctx context.Context) error {
	f, err := m.lookup(ctx)
	if err != nil || f.status == StatusNotFound {
		return err
	}

	info, err := m.cli.ContainerInspect(ctx, f.id)
	if err != nil {
		return fmt.Errorf("inspect container: %w", err)
	}

	bindings := info.HostConfig.PortBindings[ContainerPort]
	if len(bindings) == 0 {
		return fmt.Errorf("no port binding for %s", ContainerPort)
	}
	if got := bindings[0].HostPort; got != m.cfg.HostPort {
		return fmt.Errorf("bound to port %s, want %s", got, m.cfg.HostPort)
	}

	if m.cfg.DataPath == "" {
		return nil
	}
	for _, mnt := range info.Mounts {
		if mnt.Destination != DataDir {
			continue
		}
		if mnt.Source != m.cfg.DataPath {
			return fmt.Errorf("mounts %s at %s, want %s", mnt.Source, DataDir, m.cfg.DataPath)
		}
		return nil
	}
	return fmt.Errorf("no mount at %s", DataDir)
}

// Info summarises the container for status output.
type Info struct {
	Container string          `json:"container"`
	Image     string          `json:"image"`
	Status    ContainerStatus `json:"status"`
	URL       string          `json:"url"`
	DataPath  string          `json:"data_path,omitempty"`
}

// Info reports the container status and where it is reachable.
func (m *DockerManager) Info(ctx context.Context) (*Info, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &Info{
		Container: m.cfg.ContainerName,
		Image:     m.cfg.Image,
		Status:    status,
		URL:       m.URL(),
		DataPath:  m.cfg.DataPath,
	}, nil
}

// WaitReady polls the DefraDB health endpoint once a second until it answers
// or timeout elapses.
func (m *DockerManager) WaitReady(ctx context.Context, timeout time.Duration) error {
	hc := NewClient(m.URL())
	hc.httpClient.Timeout = 2 * time.Second

	return retry.Do(
		func() error { return hc.HealthCheck(ctx) },
		retry.Context(ctx),
		retry.Attempts(max(uint(timeout/time.Second), 1)),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// create pulls the image if needed and creates a stopped container.
func (m *DockerManager) create(ctx context.Context) (string, error) {
	if err := m.pullIfMissing(ctx); err != nil {
		return "", err
	}

	port := nat.Port(ContainerPort)
	cfg := &container.Config{
		Image: m.cfg.Image,
		Cmd: []string{
			"start",
			"--no-keyring",
			"--url", "0.0.0.0:" + port.Port(),
			"--store", "badger",
			"--rootdir", DataDir,
		},
		Labels:       m.cfg.Labels,
		ExposedPorts: nat.PortSet{port: {}},
		Healthcheck: &container.HealthConfig{
			Test:        []string{"CMD", "curl", "-sf", "http://localhost:" + port.Port() + "/health-check"},
			Interval:    2 * time.Second,
			Timeout:     5 * time.Second,
			Retries:     10,
			StartPeriod: 5 * time.Second,
		},
	}
	host := &container.HostConfig{
		PortBindings: nat.PortMap{port: {{HostIP: "127.0.0.1", HostPort: m.cfg.HostPort}}},
	}
	if m.cfg.DataPath != "" {
		host.Mounts = []mount.Mount{{Type: mount.TypeBind, Source: m.cfg.DataPath, Target: DataDir}}
	}

	resp, err := m.cli.ContainerCreate(ctx, cfg, host, nil, nil, m.cfg.ContainerName)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

func (m *DockerManager) pullIfMissing(ctx context.Context) error {
	if _, err := m.cli.ImageInspect(ctx, m.cfg.Image); err == nil {
		return nil
	}

	rc, err := m.cli.ImagePull(ctx, m.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", m.cfg.Image, err)
	}
	defer rc.Close()

	// The pull completes only once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull %s: %w", m.cfg.Image, err)
	}
	return nil
}
