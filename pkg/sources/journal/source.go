// Package journal serves systemd units: status and lifecycle via D-Bus,
// log streams via journalctl.
package journal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/modoterra/logtap/pkg/core"
)

// Source serves systemd unit resources.
type Source struct {
	units  []core.Resource
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a journal source.
func New(logger *slog.Logger) *Source {
	return &Source{logger: logger}
}

// AddUnit registers a systemd unit resource to monitor.
func (s *Source) AddUnit(res core.Resource) {
	s.mu.Lock()
	s.units = append(s.units, res)
	s.mu.Unlock()
}

func (s *Source) Name() string { return "systemd" }

func (s *Source) List(ctx context.Context) ([]core.Resource, error) {
	s.mu.Lock()
	units := append([]core.Resource(nil), s.units...)
	s.mu.Unlock()

	if len(units) == 0 {
		return nil, nil
	}

	conn, err := dbus.NewWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Unit
	}

	statuses, err := conn.ListUnitsByNamesContext(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}

	byUnit := make(map[string]dbus.UnitStatus, len(statuses))
	for _, st := range statuses {
		byUnit[st.Name] = st
	}

	items := make([]core.Resource, 0, len(units))
	for _, res := range units {
		res.Status = core.StatusUnknown
		if st, ok := byUnit[res.Unit]; ok {
			res.Status = mapStatus(st.ActiveState, st.SubState)
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
	unit := s.unitFor(name)

	conn, err := dbus.NewWithContext(ctx)
	if err != nil {
		return fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	ch := make(chan string, 1)
	switch action {
	case "start":
		_, err = conn.StartUnitContext(ctx, unit, "replace", ch)
	case "stop":
		_, err = conn.StopUnitContext(ctx, unit, "replace", ch)
	case "restart":
		_, err = conn.RestartUnitContext(ctx, unit, "replace", ch)
	default:
		return fmt.Errorf("unsupported action %q for systemd unit", action)
	}
	if err != nil {
		return fmt.Errorf("systemd %s %s: %w", action, unit, err)
	}

	result := <-ch
	if result != "done" {
		return fmt.Errorf("systemd %s %s: job result %q", action, unit, result)
	}
	return nil
}

// OpenLogStream follows the unit's journal. The stderr kind carries the
// warning-and-worse entries; stdout carries everything else. Startup
// kinds do not exist for units.
func (s *Source) OpenLogStream(ctx context.Context, res core.Resource, kind core.StreamKind, opts core.OpenOptions) (io.ReadCloser, error) {
	if kind.Startup() {
		return nil, fmt.Errorf("systemd unit %s has no %s stream", res.Name, kind)
	}

	unit := res.Unit
	if unit == "" {
		unit = res.Name
	}

	args := []string{"-u", unit, "-o", "cat", "-n", "50"}
	if opts.Follow {
		args = append(args, "-f")
	}
	if kind.IsError() {
		args = append(args, "-p", "warning")
	} else {
		args = append(args, "-p", "notice..7")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(streamCtx, "journalctl", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("journalctl pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("journalctl start: %w", err)
	}

	s.logger.Debug("following journal", "unit", unit, "stream", kind)
	return &journalStream{rc: stdout, cmd: cmd, cancel: cancel}, nil
}

// journalStream wraps the journalctl stdout pipe and reaps the process
// on close.
type journalStream struct {
	rc     io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
	once   sync.Once
}

func (j *journalStream) Read(p []byte) (int, error) {
	return j.rc.Read(p)
}

func (j *journalStream) Close() error {
	j.once.Do(func() {
		j.cancel()
		j.rc.Close()
		j.cmd.Wait()
	})
	return nil
}

func (s *Source) unitFor(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range s.units {
		if res.Name == name && res.Unit != "" {
			return res.Unit
		}
	}
	// Fall back to treating the name as a unit name.
	if !strings.Contains(name, ".") {
		return name + ".service"
	}
	return name
}

func mapStatus(active, sub string) core.Status {
	switch {
	case active == "active" && sub == "running":
		return core.StatusRunning
	case active == "active":
		return core.StatusRunning
	case active == "inactive", active == "deactivating":
		return core.StatusStopped
	case active == "failed":
		return core.StatusFailed
	default:
		return core.StatusUnknown
	}
}
