// Package procpipe supervises exec processes and serves their stdout and
// stderr pipes as log streams.
package procpipe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/modoterra/logtap/pkg/core"
)

// process tracks one supervised child process.
type process struct {
	name      string
	command   string
	dir       string
	env       map[string]string
	restart   core.RestartPolicy
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	status    core.Status
	pid       int
	startedAt time.Time
	failures  int
	mu        sync.Mutex
	stdout    *lineBuffer
	stderr    *lineBuffer
}

// lineBuffer keeps recent output lines and feeds live subscribers. It
// stays open across restarts and closes only when the process reaches a
// terminal, non-restarting state.
type lineBuffer struct {
	lines  []string
	subs   []chan string
	closed bool
	mu     sync.Mutex
}

func newLineBuffer() *lineBuffer {
	return &lineBuffer{}
}

func (b *lineBuffer) write(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > 1000 {
		b.lines = b.lines[len(b.lines)-1000:]
	}
	for _, ch := range b.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// subscribe replays the retained lines and then delivers live output.
func (b *lineBuffer) subscribe() (<-chan string, func()) {
	ch := make(chan string, 512)
	b.mu.Lock()
	for _, line := range b.lines {
		select {
		case ch <- line:
		default:
		}
	}
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	detach := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
	return ch, detach
}

// closeSubs ends all subscriptions; their streams read EOF.
func (b *lineBuffer) closeSubs() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Supervisor manages the lifecycle of exec processes.
type Supervisor struct {
	processes map[string]*process
	mu        sync.RWMutex
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewSupervisor creates a process supervisor scoped to ctx.
func NewSupervisor(ctx context.Context, logger *slog.Logger) *Supervisor {
	sctx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		processes: make(map[string]*process),
		logger:    logger,
		ctx:       sctx,
		cancel:    cancel,
	}
}

// Register adds a process to be supervised but doesn't start it yet.
func (s *Supervisor) Register(name, command, dir string, env map[string]string, restart core.RestartPolicy) {
	if restart == "" {
		restart = core.RestartOnFailure
	}
	s.mu.Lock()
	s.processes[name] = &process{
		name:    name,
		command: command,
		dir:     dir,
		env:     env,
		restart: restart,
		status:  core.StatusStopped,
		stdout:  newLineBuffer(),
		stderr:  newLineBuffer(),
	}
	s.mu.Unlock()
}

// Start starts a registered process.
func (s *Supervisor) Start(name string) error {
	p, err := s.lookup(name)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.status == core.StatusRunning {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return s.spawn(p)
}

// Stop stops a running process.
func (s *Supervisor) Stop(name string) error {
	p, err := s.lookup(name)
	if err != nil {
		return err
	}
	return s.stopProcess(p)
}

// Restart stops and restarts a process.
func (s *Supervisor) Restart(name string) error {
	if err := s.Stop(name); err != nil {
		s.logger.Warn("stop before restart", "name", name, "err", err)
	}
	time.Sleep(100 * time.Millisecond)
	s.mu.RLock()
	p, ok := s.processes[name]
	s.mu.RUnlock()
	if ok {
		p.mu.Lock()
		p.restart = core.RestartOnFailure
		p.mu.Unlock()
	}
	return s.Start(name)
}

// StartAll starts all registered processes.
func (s *Supervisor) StartAll() {
	s.mu.RLock()
	names := make([]string, 0, len(s.processes))
	for name := range s.processes {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		if err := s.Start(name); err != nil {
			s.logger.Error("start process", "name", name, "err", err)
		}
	}
}

// StopAll sends SIGTERM to all processes and waits.
func (s *Supervisor) StopAll() {
	s.cancel()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.processes {
		s.stopProcess(p)
	}
}

// Status returns the current status of a process.
func (s *Supervisor) Status(name string) (core.Status, int, time.Time) {
	s.mu.RLock()
	p, ok := s.processes[name]
	s.mu.RUnlock()
	if !ok {
		return core.StatusUnknown, 0, time.Time{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.pid, p.startedAt
}

func (s *Supervisor) lookup(name string) (*process, error) {
	s.mu.RLock()
	p, ok := s.processes[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown process: %s", name)
	}
	return p, nil
}

func (s *Supervisor) spawn(p *process) error {
	ctx, cancel := context.WithCancel(s.ctx)
	parts := strings.Fields(p.command)
	if len(parts) == 0 {
		cancel()
		return fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = p.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Env = os.Environ()
	for k, v := range p.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %q: %w", p.command, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.cancel = cancel
	p.pid = cmd.Process.Pid
	p.status = core.StatusRunning
	p.startedAt = time.Now()
	p.mu.Unlock()

	s.logger.Info("process started", "name", p.name, "pid", cmd.Process.Pid, "command", p.command)

	go scanInto(stdoutPipe, p.stdout)
	go scanInto(stderrPipe, p.stderr)
	go s.waitAndRestart(p, cmd, cancel)

	return nil
}

func (s *Supervisor) waitAndRestart(p *process, cmd *exec.Cmd, cancel context.CancelFunc) {
	err := cmd.Wait()
	cancel()

	p.mu.Lock()
	p.pid = 0
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if s.ctx.Err() != nil {
		p.status = core.StatusStopped
		p.mu.Unlock()
		p.stdout.closeSubs()
		p.stderr.closeSubs()
		return
	}

	if exitCode == 0 {
		p.status = core.StatusStopped
	} else {
		p.status = core.StatusFailed
	}
	p.failures++
	failures := p.failures
	restart := p.restart
	p.mu.Unlock()

	s.logger.Info("process exited", "name", p.name, "exit_code", exitCode, "err", err)

	shouldRestart := false
	switch restart {
	case core.RestartAlways:
		shouldRestart = true
	case core.RestartOnFailure:
		shouldRestart = exitCode != 0
	}

	if !shouldRestart {
		// Terminal: end any attached log streams.
		p.stdout.closeSubs()
		p.stderr.closeSubs()
		return
	}

	delay := backoff(failures)
	s.logger.Info("restarting process", "name", p.name, "delay", delay, "attempt", failures)

	p.mu.Lock()
	p.status = core.StatusRestarting
	p.mu.Unlock()

	select {
	case <-time.After(delay):
		if err := s.spawn(p); err != nil {
			s.logger.Error("restart failed", "name", p.name, "err", err)
			p.stdout.closeSubs()
			p.stderr.closeSubs()
		}
	case <-s.ctx.Done():
	}
}

func (s *Supervisor) stopProcess(p *process) error {
	p.mu.Lock()
	if p.status != core.StatusRunning || p.cmd == nil || p.cmd.Process == nil {
		p.mu.Unlock()
		return nil
	}
	cmd := p.cmd
	cancel := p.cancel
	p.restart = core.RestartNever // prevent auto-restart
	p.mu.Unlock()

	// SIGTERM the process group, escalate to SIGKILL after a grace period.
	syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	}

	if cancel != nil {
		cancel()
	}

	p.mu.Lock()
	p.status = core.StatusStopped
	p.pid = 0
	p.mu.Unlock()

	return nil
}

// scanInto reads lines from a pipe into a buffer until the pipe closes.
func scanInto(r io.Reader, b *lineBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.write(scanner.Text())
	}
}

// backoff returns exponential backoff delay: 1s, 2s, 4s, 8s, 16s, 30s max.
func backoff(failures int) time.Duration {
	d := time.Duration(1<<uint(failures-1)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
