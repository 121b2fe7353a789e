// Package docker streams container logs via the Docker API.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"

	"github.com/modoterra/logtap/pkg/compat"
	"github.com/modoterra/logtap/pkg/core"
)

// Source serves container resources via the Docker API. Steady-state
// streams follow the container's own output; startup streams read the
// resource's init container, which has usually exited by the time anyone
// watches, so they are read to EOF instead of followed.
type Source struct {
	cli        *client.Client
	containers []core.Resource
	mu         sync.Mutex
	logger     *slog.Logger
}

// New connects to the Docker daemon from the environment.
func New(logger *slog.Logger) (*Source, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Source{cli: cli, logger: logger}, nil
}

// AddContainer registers a container resource to monitor.
func (s *Source) AddContainer(res core.Resource) {
	s.mu.Lock()
	s.containers = append(s.containers, res)
	s.mu.Unlock()
}

func (s *Source) Name() string { return "docker" }

// PlatformVersion reports the daemon's API version. It gates whether
// startup streams can be requested at all.
func (s *Source) PlatformVersion(ctx context.Context) (compat.Version, error) {
	v, err := s.cli.ServerVersion(ctx)
	if err != nil {
		return compat.Version{}, fmt.Errorf("docker server version: %w", err)
	}
	parsed, err := compat.Parse(v.APIVersion)
	if err != nil {
		return compat.Version{}, fmt.Errorf("docker API version %q: %w", v.APIVersion, err)
	}
	return parsed, nil
}

func (s *Source) List(ctx context.Context) ([]core.Resource, error) {
	summaries, err := s.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	byName := make(map[string]container.Summary)
	for _, c := range summaries {
		for _, n := range c.Names {
			byName[strings.TrimPrefix(n, "/")] = c
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]core.Resource, 0, len(s.containers))
	for _, res := range s.containers {
		res.Status = core.StatusUnknown
		if c, ok := byName[res.Container]; ok {
			res.Status = mapContainerState(c.State)
		}
		items = append(items, res)
	}
	return items, nil
}

func (s *Source) Action(ctx context.Context, resourceID string, action string) error {
	_, name, err := core.ParseResourceID(resourceID)
	if err != nil {
		return err
	}
	target := name
	s.mu.Lock()
	for _, res := range s.containers {
		if res.Name == name && res.Container != "" {
			target = res.Container
		}
	}
	s.mu.Unlock()

	switch action {
	case "start":
		err = s.cli.ContainerStart(ctx, target, container.StartOptions{})
	case "stop":
		err = s.cli.ContainerStop(ctx, target, container.StopOptions{})
	case "restart":
		err = s.cli.ContainerRestart(ctx, target, container.StopOptions{})
	default:
		return fmt.Errorf("unsupported action %q for container", action)
	}
	if err != nil {
		return fmt.Errorf("docker %s %s: %w", action, target, err)
	}
	return nil
}

// OpenLogStream opens one demultiplexed channel of a container's log
// output as a byte stream.
func (s *Source) OpenLogStream(ctx context.Context, res core.Resource, kind core.StreamKind, opts core.OpenOptions) (io.ReadCloser, error) {
	target := res.Container
	if target == "" {
		target = res.Name
	}
	if kind.Startup() {
		if res.InitContainer == "" {
			return nil, fmt.Errorf("container %s has no init container for %s", res.Name, kind)
		}
		target = res.InitContainer
	}

	inspect, err := s.cli.ContainerInspect(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", target, err)
	}
	tty := inspect.Config != nil && inspect.Config.Tty

	rc, err := s.cli.ContainerLogs(ctx, target, container.LogsOptions{
		ShowStdout: !kind.IsError(),
		ShowStderr: kind.IsError(),
		// Init containers have exited; read their output to EOF.
		Follow:     opts.Follow && !kind.Startup(),
		Timestamps: opts.Timestamps,
	})
	if err != nil {
		return nil, fmt.Errorf("container logs %s: %w", target, err)
	}

	if tty {
		// TTY containers produce a single raw stream with no stderr
		// channel; there is nothing to demultiplex.
		if kind.IsError() {
			rc.Close()
			return io.NopCloser(strings.NewReader("")), nil
		}
		return rc, nil
	}
	return demux(rc, kind.IsError()), nil
}

// demux peels one channel out of Docker's multiplexed log stream and
// exposes it as a plain byte stream.
func demux(rc io.ReadCloser, wantStderr bool) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer rc.Close()
		var out, errw io.Writer = pw, io.Discard
		if wantStderr {
			out, errw = io.Discard, pw
		}
		_, err := stdcopy.StdCopy(out, errw, rc)
		pw.CloseWithError(err)
	}()
	return pr
}

func mapContainerState(state container.ContainerState) core.Status {
	switch state {
	case container.StateRunning:
		return core.StatusRunning
	case container.StateRestarting:
		return core.StatusRestarting
	case container.StateExited, container.StateDead, container.StateCreated, container.StatePaused:
		return core.StatusStopped
	default:
		return core.StatusUnknown
	}
}
