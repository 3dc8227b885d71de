package defra

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
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
	DefaultImage = "sourcenetwork/defradb:latest"
	DefaultPort  = "9181"

	// NamePrefix starts every container name derived from a home directory.
	NamePrefix = "epubify-defra-"

	// StoreLabel marks containers that hold epubify task records.
	StoreLabel = "epubify.store"

	apiPort   nat.Port = "9181/tcp"
	dataMount          = "/data"
)

// ErrNotCreated is returned by operations that need an existing container.
var ErrNotCreated = errors.New("task store container not created")

// NameFor derives the container name for a home directory. Each home gets
// its own container so two homes on one host never share task records.
func NameFor(dataPath string) string {
	sum := sha256.Sum256([]byte(dataPath))
	return NamePrefix + hex.EncodeToString(sum[:4])
}

// State is the lifecycle state of the task store container.
type State string

const (
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateMissing  State = "not_found"
)

func stateOf(dockerState string) State {
	switch dockerState {
	case "running":
		return StateRunning
	case "exited", "dead":
		return StateStopped
	case "created", "restarting":
		return StateStarting
	}
	return State(dockerState)
}

// ContainerConfig describes the DefraDB container backing the task store.
type ContainerConfig struct {
	// Name defaults to NameFor(DataPath).
	Name  string
	Image string
	// DataPath is bind-mounted as the DefraDB root directory.
	DataPath string
	HostPort string
	// Labels are added to StoreLabel on creation.
	Labels map[string]string
	// ReadyTimeout bounds the health wait after a start. Defaults to 30s.
	ReadyTimeout time.Duration
}

func (c ContainerConfig) withDefaults() ContainerConfig {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.HostPort == "" {
		c.HostPort = DefaultPort
	}
	if c.Name == "" {
		c.Name = NameFor(c.DataPath)
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 30 * time.Second
	}
	return c
}

// Container runs the DefraDB instance holding conversion task records.
type Container struct {
	cli *client.Client
	cfg ContainerConfig
}

// NewContainer connects to the local Docker daemon. Nothing is started
// until Ensure.
func NewContainer(cfg ContainerConfig) (*Container, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Container{cli: cli, cfg: cfg.withDefaults()}, nil
}

// Name returns the Docker container name.
func (c *Container) Name() string { return c.cfg.Name }

// URL returns the DefraDB API address published on the host.
func (c *Container) URL() string {
	return "http://localhost:" + c.cfg.HostPort
}

// Close releases the Docker client.
func (c *Container) Close() error {
	return c.cli.Close()
}

// Ping reports whether the Docker daemon is reachable.
func (c *Container) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}
	return nil
}

// Ensure leaves the task store running and healthy. A missing container is
// created, a stopped one is restarted, and an existing one must publish the
// configured port and mount the configured data directory.
func (c *Container) Ensure(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		return err
	}

	state, id, err := c.lookup(ctx)
	if err != nil {
		return err
	}
	if state == StateMissing {
		if id, err = c.create(ctx); err != nil {
			return err
		}
	} else {
		info, err := c.cli.ContainerInspect(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to inspect container: %w", err)
		}
		if err := checkCompatible(info, c.cfg); err != nil {
			return fmt.Errorf("container %s is incompatible: %w", c.cfg.Name, err)
		}
	}

	if state != StateRunning {
		if err := c.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start container: %w", err)
		}
	}
	return c.WaitHealthy(ctx, c.cfg.ReadyTimeout)
}

// WaitHealthy polls the DefraDB health check once a second until it passes
// or timeout elapses.
func (c *Container) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	api := NewClient(c.URL())
	attempts := uint(timeout / time.Second)
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		func() error { return api.HealthCheck(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// Stop stops the container and keeps its data. A missing container is not
// an error.
func (c *Container) Stop(ctx context.Context) error {
	state, id, err := c.lookup(ctx)
	if err != nil || state == StateMissing {
		return err
	}
	timeout := 10
	if err := c.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Remove stops and deletes the container. The bind-mounted data directory
// is left in place.
func (c *Container) Remove(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}
	state, id, err := c.lookup(ctx)
	if err != nil || state == StateMissing {
		return err
	}
	if err := c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// State reports the container's lifecycle state.
func (c *Container) State(ctx context.Context) (State, error) {
	state, _, err := c.lookup(ctx)
	return state, err
}

// Logs returns the last tail lines of container output.
func (c *Container) Logs(ctx context.Context, tail string) (string, error) {
	state, id, err := c.lookup(ctx)
	if err != nil {
		return "", err
	}
	if state == StateMissing {
		return "", ErrNotCreated
	}

	rc, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: tail})
	if err != nil {
		return "", fmt.Errorf("failed to get logs: %w", err)
	}
	defer rc.Close()

	out, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return string(out), nil
}

func (c *Container) lookup(ctx context.Context) (State, string, error) {
	found, err := c.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+c.cfg.Name+"$")),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to list containers: %w", err)
	}
	if len(found) == 0 {
		return StateMissing, "", nil
	}
	return stateOf(found[0].State), found[0].ID, nil
}

func (c *Container) create(ctx context.Context) (string, error) {
	if err := c.pullImage(ctx); err != nil {
		return "", err
	}

	cfg, hostCfg := containerSpec(c.cfg)
	resp, err := c.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, c.cfg.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return resp.ID, nil
}

// containerSpec runs DefraDB on badger under the data mount, published on
// loopback only.
func containerSpec(cfg ContainerConfig) (*container.Config, *container.HostConfig) {
	labels := map[string]string{StoreLabel: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	spec := &container.Config{
		Image: cfg.Image,
		Cmd: []string{
			"start",
			"--no-keyring",
			"--url", "0.0.0.0:" + apiPort.Port(),
			"--store", "badger",
			"--rootdir", dataMount,
		},
		Labels:       labels,
		ExposedPorts: nat.PortSet{apiPort: struct{}{}},
	}

	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			apiPort: {{HostIP: "127.0.0.1", HostPort: cfg.HostPort}},
		},
	}
	if cfg.DataPath != "" {
		host.Mounts = []mount.Mount{{Type: mount.TypeBind, Source: cfg.DataPath, Target: dataMount}}
	}
	return spec, host
}

// checkCompatible rejects a container created for another port or home.
func checkCompatible(info container.InspectResponse, cfg ContainerConfig) error {
	var bindings []nat.PortBinding
	if info.ContainerJSONBase != nil && info.HostConfig != nil {
		bindings = info.HostConfig.PortBindings[apiPort]
	}
	if len(bindings) == 0 {
		return fmt.Errorf("no host binding for %s", apiPort)
	}
	if bindings[0].HostPort != cfg.HostPort {
		return fmt.Errorf("published on port %s, want %s", bindings[0].HostPort, cfg.HostPort)
	}

	if cfg.DataPath == "" {
		return nil
	}
	for _, m := range info.Mounts {
		if m.Destination != dataMount {
			continue
		}
		if m.Source != cfg.DataPath {
			return fmt.Errorf("task data mounted from %s, want %s", m.Source, cfg.DataPath)
		}
		return nil
	}
	return fmt.Errorf("no mount at %s", dataMount)
}

func (c *Container) pullImage(ctx context.Context) error {
	if _, err := c.cli.ImageInspect(ctx, c.cfg.Image); err == nil {
		return nil
	}

	rc, err := c.cli.ImagePull(ctx, c.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", c.cfg.Image, err)
	}
	defer rc.Close()

	// The pull only completes once the progress stream is drained.
	_, err = io.Copy(io.Discard, rc)
	return err
}
