package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modoterra/logtap/pkg/compat"
	"github.com/modoterra/logtap/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeOpener serves canned streams and records every open attempt.
type fakeOpener struct {
	mu      sync.Mutex
	opened  []core.StreamKind
	streams map[core.StreamKind]func(ctx context.Context) io.ReadCloser
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{streams: make(map[core.StreamKind]func(ctx context.Context) io.ReadCloser)}
}

func (f *fakeOpener) OpenLogStream(ctx context.Context, _ core.Resource, kind core.StreamKind, _ core.OpenOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.opened = append(f.opened, kind)
	mk := f.streams[kind]
	f.mu.Unlock()

	if mk == nil {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return mk(ctx), nil
}

func (f *fakeOpener) openedKinds() []core.StreamKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.StreamKind(nil), f.opened...)
}

// static serves fixed lines and then EOF.
func (f *fakeOpener) static(kind core.StreamKind, lines ...string) {
	f.streams[kind] = func(_ context.Context) io.ReadCloser {
		return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n"))
	}
}

// piped serves a followed stream the test writes to. A pending read
// unblocks with ctx.Err() when ctx is cancelled, matching the opener
// contract.
func (f *fakeOpener) piped(kind core.StreamKind) *io.PipeWriter {
	pr, pw := io.Pipe()
	f.streams[kind] = func(ctx context.Context) io.ReadCloser {
		go func() {
			<-ctx.Done()
			pw.CloseWithError(ctx.Err())
		}()
		return pr
	}
	return pw
}

func containerResource() core.Resource {
	return core.Resource{ID: "container:web", Kind: core.KindContainer, Name: "web", Container: "web-1"}
}

func execResource() core.Resource {
	return core.Resource{ID: "exec:worker", Kind: core.KindExec, Name: "worker"}
}

// collect drains the sequence until it ends, returning all entries and
// the terminal error (nil for a clean end).
func collect(t *testing.T, b *Batches) ([]core.LogEntry, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var all []core.LogEntry
	for {
		batch, err := b.Next(ctx)
		all = append(all, batch...)
		if errors.Is(err, io.EOF) {
			return all, nil
		}
		if err != nil {
			return all, err
		}
	}
}

func TestSingleStreamOrdering(t *testing.T) {
	opener := newFakeOpener()
	opener.static(core.StreamStdOut, "alpha", "beta", "gamma", "delta")

	m := New(opener, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches, err := m.StreamResourceLogs(ctx, execResource(), compat.Version{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	entries, err := collect(t, batches)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	want := []string{"alpha", "beta", "gamma", "delta"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.LineNumber != i+1 {
			t.Errorf("entry %d: line number %d, want %d", i, e.LineNumber, i+1)
		}
		if e.Content != want[i] {
			t.Errorf("entry %d: content %q, want %q", i, e.Content, want[i])
		}
		if e.IsError {
			t.Errorf("entry %d: classified as error on stdout", i)
		}
	}
}

func TestConcurrentStreamsPreservePerStreamOrder(t *testing.T) {
	opener := newFakeOpener()
	outW := opener.piped(core.StreamStdOut)
	errW := opener.piped(core.StreamStdErr)

	m := New(opener, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches, err := m.StreamResourceLogs(ctx, execResource(), compat.Version{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer outW.Close()
		for i := 1; i <= n; i++ {
			fmt.Fprintf(outW, "out %d\n", i)
		}
	}()
	go func() {
		defer wg.Done()
		defer errW.Close()
		for i := 1; i <= n; i++ {
			fmt.Fprintf(errW, "err %d\n", i)
		}
	}()
	wg.Wait()

	entries, err := collect(t, batches)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(entries) != 2*n {
		t.Fatalf("got %d entries, want %d", len(entries), 2*n)
	}

	// Each stream independently counts 1..n in order.
	var outSeen, errSeen int
	for _, e := range entries {
		if e.IsError {
			errSeen++
			if e.LineNumber != errSeen {
				t.Fatalf("stderr entry out of order: line %d, want %d", e.LineNumber, errSeen)
			}
			if want := fmt.Sprintf("err %d", errSeen); e.Content != want {
				t.Fatalf("stderr content %q, want %q", e.Content, want)
			}
		} else {
			outSeen++
			if e.LineNumber != outSeen {
				t.Fatalf("stdout entry out of order: line %d, want %d", e.LineNumber, outSeen)
			}
			if want := fmt.Sprintf("out %d", outSeen); e.Content != want {
				t.Fatalf("stdout content %q, want %q", e.Content, want)
			}
		}
	}
	if outSeen != n || errSeen != n {
		t.Errorf("saw %d stdout and %d stderr entries, want %d each", outSeen, errSeen, n)
	}
}

func TestNonContainerSkipsStartupStreams(t *testing.T) {
	opener := newFakeOpener()
	m := New(opener, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := core.Resource{ID: "systemd:nginx", Kind: core.KindSystemd, Name: "nginx", Unit: "nginx.service"}
	batches, err := m.StreamResourceLogs(ctx, res, compat.MustParse("9.99"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if _, err := collect(t, batches); err != nil {
		t.Fatalf("collect: %v", err)
	}

	opened := opener.openedKinds()
	if len(opened) != 2 {
		t.Fatalf("opened %d streams, want 2: %v", len(opened), opened)
	}
	for _, k := range opened {
		if k.Startup() {
			t.Errorf("opened startup stream %s for non-container resource", k)
		}
	}
}

func TestStartupStreamVersionGate(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		wantKinds int
		startup   bool
	}{
		{"below threshold", "1.41", 2, false},
		{"at threshold", "1.42", 4, true},
		{"above threshold", "1.43", 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := newFakeOpener()
			m := New(opener, testLogger())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			batches, err := m.StreamResourceLogs(ctx, containerResource(), compat.MustParse(tt.version))
			if err != nil {
				t.Fatalf("stream: %v", err)
			}
			if _, err := collect(t, batches); err != nil {
				t.Fatalf("collect: %v", err)
			}

			opened := opener.openedKinds()
			if len(opened) != tt.wantKinds {
				t.Fatalf("opened %d streams, want %d: %v", len(opened), tt.wantKinds, opened)
			}
			sawStartup := false
			for _, k := range opened {
				if k.Startup() {
					sawStartup = true
				}
			}
			if sawStartup != tt.startup {
				t.Errorf("startup streams opened = %v, want %v", sawStartup, tt.startup)
			}
		})
	}
}

func TestUncancellableContextRejected(t *testing.T) {
	opener := newFakeOpener()
	m := New(opener, testLogger())

	_, err := m.StreamResourceLogs(context.Background(), containerResource(), compat.MustParse("1.43"))
	if !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("err = %v, want ErrNotCancellable", err)
	}
	if opened := opener.openedKinds(); len(opened) != 0 {
		t.Errorf("opened %d streams before validation failure, want 0", len(opened))
	}
}

func TestCancellationStopsSequence(t *testing.T) {
	opener := newFakeOpener()
	outW := opener.piped(core.StreamStdOut)
	opener.piped(core.StreamStdErr)

	m := New(opener, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches, err := m.StreamResourceLogs(ctx, execResource(), compat.Version{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	fmt.Fprintln(outW, "still running")
	if _, err := batches.Next(ctx); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	cancel()

	deadline := time.After(2 * time.Second)
	for {
		done := make(chan error, 1)
		go func() {
			_, err := batches.Next(ctx)
			done <- err
		}()
		select {
		case err := <-done:
			if err == nil {
				continue // leftover batch, keep draining
			}
			// Cancellation must surface as such, not as a read failure.
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("err = %v, want context.Canceled", err)
			}
			return
		case <-deadline:
			t.Fatal("sequence did not stop after cancellation")
		}
	}
}

func TestOneFailedStreamFaultsWholeSequence(t *testing.T) {
	opener := newFakeOpener()
	outW := opener.piped(core.StreamStdOut)
	errW := opener.piped(core.StreamStdErr)

	m := New(opener, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches, err := m.StreamResourceLogs(ctx, execResource(), compat.Version{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	// The healthy stream still has deliverable data when the other fails.
	fmt.Fprintln(outW, "healthy line")
	readErr := errors.New("connection reset")
	errW.CloseWithError(readErr)

	_, err = collect(t, batches)
	if err == nil {
		t.Fatal("sequence ended cleanly despite a failed stream")
	}
	if !errors.Is(err, readErr) {
		t.Fatalf("err = %v, want wrapped %v", err, readErr)
	}

	// The sequence is over; the fault is sticky.
	nextCtx, nextCancel := context.WithTimeout(context.Background(), time.Second)
	defer nextCancel()
	if _, err := batches.Next(nextCtx); !errors.Is(err, readErr) {
		t.Fatalf("subsequent Next: err = %v, want wrapped %v", err, readErr)
	}
}

func TestSelectStreamKinds(t *testing.T) {
	all := SelectStreamKinds(true, compat.MustParse("1.42"))
	if len(all) != 4 {
		t.Errorf("container at threshold: got %v", all)
	}
	std := SelectStreamKinds(true, compat.MustParse("1.41"))
	if len(std) != 2 {
		t.Errorf("container below threshold: got %v", std)
	}
	std = SelectStreamKinds(false, compat.MustParse("9.99"))
	if len(std) != 2 {
		t.Errorf("non-container: got %v", std)
	}
	for _, k := range std {
		if k.Startup() {
			t.Errorf("non-container selection includes %s", k)
		}
	}
}
