package procpipe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/modoterra/logtap/pkg/core"
)

// Source serves exec resources backed by the supervisor. The supervised
// process's stdout and stderr pipes are its log streams.
type Source struct {
	supervisor *Supervisor
	resources  []core.Resource
	mu         sync.Mutex
	logger     *slog.Logger
}

// NewSource creates an exec source backed by the given supervisor.
func NewSource(supervisor *Supervisor, logger *slog.Logger) *Source {
	return &Source{supervisor: supervisor, logger: logger}
}

// AddProcess registers a process with the supervisor and tracks it.
func (s *Source) AddProcess(res core.Resource) {
	restart := core.RestartPolicy(res.Restart)
	s.supervisor.Register(res.Name, res.Command, res.Dir, res.Env, restart)
	s.mu.Lock()
	s.resources = append(s.resources, res)
	s.mu.Unlock()
}

func (s *Source) Name() string { return "exec" }

func (s *Source) List(_ context.Context) ([]core.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]core.Resource, 0, len(s.resources))
	for _, res := range s.resources {
		status, _, _ := s.supervisor.Status(res.Name)
		res.Status = status
		items = append(items, res)
	}
	return items, nil
}

func (s *Source) Action(_ context.Context, resourceID string, action string) error {
	_, name, err := core.ParseResourceID(resourceID)
	if err != nil {
		return err
	}

	switch action {
	case "start":
		return s.supervisor.Start(name)
	case "stop":
		return s.supervisor.Stop(name)
	case "restart":
		return s.supervisor.Restart(name)
	default:
		return fmt.Errorf("unsupported action %q for exec process", action)
	}
}

// OpenLogStream attaches to the process's stdout or stderr pipe. The
// stream replays recently retained lines, then delivers live output, and
// ends when the process reaches a terminal non-restarting state.
func (s *Source) OpenLogStream(ctx context.Context, res core.Resource, kind core.StreamKind, _ core.OpenOptions) (io.ReadCloser, error) {
	if kind.Startup() {
		return nil, fmt.Errorf("exec process %s has no %s stream", res.Name, kind)
	}

	p, err := s.supervisor.lookup(res.Name)
	if err != nil {
		return nil, err
	}

	buf := p.stdout
	if kind.IsError() {
		buf = p.stderr
	}

	ch, detach := buf.subscribe()
	return &lineStream{ctx: ctx, ch: ch, detach: detach}, nil
}

// lineStream adapts a line subscription to a newline-delimited byte
// stream. A pending Read unblocks with ctx.Err() when ctx is cancelled.
type lineStream struct {
	ctx    context.Context
	ch     <-chan string
	detach func()
	buf    []byte
	once   sync.Once
}

func (l *lineStream) Read(p []byte) (int, error) {
	for len(l.buf) == 0 {
		select {
		case line, ok := <-l.ch:
			if !ok {
				return 0, io.EOF
			}
			l.buf = append(l.buf, line...)
			l.buf = append(l.buf, '\n')
		case <-l.ctx.Done():
			return 0, l.ctx.Err()
		}
	}
	n := copy(p, l.buf)
	l.buf = l.buf[n:]
	return n, nil
}

func (l *lineStream) Close() error {
	l.once.Do(l.detach)
	return nil
}

// Uptime returns how long the named process has been running.
func (s *Source) Uptime(name string) time.Duration {
	status, _, startedAt := s.supervisor.Status(name)
	if status != core.StatusRunning || startedAt.IsZero() {
		return 0
	}
	return time.Since(startedAt)
}
