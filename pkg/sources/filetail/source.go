// Package filetail serves plain log files as followable log streams.
package filetail

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/modoterra/logtap/pkg/core"
)

// Source serves file resources. The stdout stream tails the configured
// file; the stderr stream tails the optional companion error file and is
// empty when none is configured.
type Source struct {
	files  []core.Resource
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a file tail source.
func New(logger *slog.Logger) *Source {
	return &Source{logger: logger}
}

// AddFile registers a file resource to monitor.
func (s *Source) AddFile(res core.Resource) {
	s.mu.Lock()
	s.files = append(s.files, res)
	s.mu.Unlock()
}

func (s *Source) Name() string { return "file" }

func (s *Source) List(_ context.Context) ([]core.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]core.Resource, 0, len(s.files))
	for _, res := range s.files {
		res.Status = core.StatusStopped
		if _, err := os.Stat(res.File); err == nil {
			res.Status = core.StatusRunning
		}
		items = append(items, res)
	}
	return items, nil
}

// Action is not supported for files.
func (s *Source) Action(_ context.Context, resourceID string, action string) error {
	return fmt.Errorf("unsupported action %q for log file", action)
}

// OpenLogStream tails the resource's file. Without a follow request the
// stream just reads the current contents to EOF.
func (s *Source) OpenLogStream(ctx context.Context, res core.Resource, kind core.StreamKind, opts core.OpenOptions) (io.ReadCloser, error) {
	if kind.Startup() {
		return nil, fmt.Errorf("log file %s has no %s stream", res.Name, kind)
	}

	path := res.File
	if kind.IsError() {
		if res.ErrorFile == "" {
			// No companion error file: an empty stream that ends cleanly.
			return io.NopCloser(strings.NewReader("")), nil
		}
		path = res.ErrorFile
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if !opts.Follow {
		return f, nil
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s.logger.Debug("tailing file", "path", path, "resource", res.Name)
	return &tailStream{ctx: streamCtx, cancel: cancel, f: f, poll: 250 * time.Millisecond}, nil
}

// tailStream reads a file to its current end, then polls for appended
// data. Truncation is treated as rotation and reading restarts from the
// beginning. A pending Read unblocks with ctx.Err() on cancellation.
type tailStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	f      *os.File
	poll   time.Duration
	once   sync.Once
}

func (t *tailStream) Read(p []byte) (int, error) {
	for {
		if err := t.ctx.Err(); err != nil {
			return 0, err
		}

		n, err := t.f.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		// At EOF: wait for more data, watching for truncation.
		select {
		case <-t.ctx.Done():
			return 0, t.ctx.Err()
		case <-time.After(t.poll):
		}

		info, err := t.f.Stat()
		if err != nil {
			continue
		}
		pos, _ := t.f.Seek(0, io.SeekCurrent)
		if info.Size() < pos {
			t.f.Seek(0, io.SeekStart)
		}
	}
}

func (t *tailStream) Close() error {
	t.once.Do(t.cancel)
	return t.f.Close()
}
