package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modoterra/logtap/pkg/core"
	"github.com/modoterra/logtap/pkg/transport/uds"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSource serves canned stream contents for exec-kind resources.
type fakeSource struct {
	data    map[core.StreamKind]string
	failErr error // when set, the stderr stream fails with this error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) List(_ context.Context) ([]core.Resource, error) { return nil, nil }

func (f *fakeSource) Action(_ context.Context, _ string, _ string) error { return nil }

func (f *fakeSource) OpenLogStream(ctx context.Context, _ core.Resource, kind core.StreamKind, _ core.OpenOptions) (io.ReadCloser, error) {
	if f.failErr != nil && kind == core.StreamStdErr {
		pr, pw := io.Pipe()
		pw.CloseWithError(f.failErr)
		return pr, nil
	}
	return io.NopCloser(strings.NewReader(f.data[kind])), nil
}

func startDaemon(t *testing.T, src core.Source) (*Daemon, *uds.Client) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "logtapd.sock")

	d := New(sock, "test", testLogger())
	d.AddSource(core.KindExec, src)
	d.AddResource(core.Resource{ID: "exec:worker", Kind: core.KindExec, Name: "worker"})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(d.Shutdown)
	go d.Run(ctx)

	for i := 0; i < 50; i++ {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	client, err := uds.Dial(sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return d, client
}

// subscribeAndCollect subscribes to a resource's logs and gathers entries
// until the stream end event arrives.
func subscribeAndCollect(t *testing.T, client *uds.Client) ([]core.LogEntry, string) {
	t.Helper()

	type result struct {
		entries []core.LogEntry
		endErr  string
	}
	done := make(chan result, 1)
	var entries []core.LogEntry

	client.OnEvent(func(msg uds.Message) {
		switch msg.Method {
		case uds.EventLogsBatch:
			var batch uds.LogsBatchEvent
			if err := msg.UnmarshalData(&batch); err == nil {
				entries = append(entries, batch.Entries...)
			}
		case uds.EventLogsEnd:
			var end uds.LogsEndEvent
			msg.UnmarshalData(&end)
			done <- result{entries: entries, endErr: end.Error}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Request(ctx, uds.MethodLogsSubscribe, uds.LogsSubscribeRequest{ResourceID: "exec:worker"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case r := <-done:
		return r.entries, r.endErr
	case <-time.After(5 * time.Second):
		t.Fatal("log stream did not end")
		return nil, ""
	}
}

func TestLogsSubscribeStreamsAndEnds(t *testing.T) {
	src := &fakeSource{data: map[core.StreamKind]string{
		core.StreamStdOut: "out one\nout two\n",
		core.StreamStdErr: "err one\n",
	}}
	_, client := startDaemon(t, src)

	entries, endErr := subscribeAndCollect(t, client)
	if endErr != "" {
		t.Fatalf("stream ended with error: %s", endErr)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	var outSeen, errSeen int
	for _, e := range entries {
		if e.IsError {
			errSeen++
			if e.LineNumber != errSeen {
				t.Errorf("stderr line number %d, want %d", e.LineNumber, errSeen)
			}
		} else {
			outSeen++
			if e.LineNumber != outSeen {
				t.Errorf("stdout line number %d, want %d", e.LineNumber, outSeen)
			}
		}
	}
	if outSeen != 2 || errSeen != 1 {
		t.Errorf("saw %d stdout and %d stderr entries", outSeen, errSeen)
	}
}

func TestLogsSubscribeReportsFault(t *testing.T) {
	src := &fakeSource{
		data:    map[core.StreamKind]string{core.StreamStdOut: "fine\n"},
		failErr: errors.New("device unplugged"),
	}
	_, client := startDaemon(t, src)

	_, endErr := subscribeAndCollect(t, client)
	if !strings.Contains(endErr, "device unplugged") {
		t.Fatalf("end error = %q, want the stream failure", endErr)
	}
}

func TestSubscribeUnknownResource(t *testing.T) {
	_, client := startDaemon(t, &fakeSource{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.Request(ctx, uds.MethodLogsSubscribe, uds.LogsSubscribeRequest{ResourceID: "exec:ghost"})
	if err == nil {
		t.Fatal("expected error for unknown resource")
	}
}

func TestPingAndVersion(t *testing.T) {
	_, client := startDaemon(t, &fakeSource{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, uds.MethodPing, nil)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	var pong uds.PingResponse
	if err := resp.UnmarshalData(&pong); err != nil || !pong.Pong {
		t.Fatalf("pong = %+v, err %v", pong, err)
	}

	resp, err = client.Request(ctx, uds.MethodVersion, nil)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var ver uds.VersionResponse
	if err := resp.UnmarshalData(&ver); err != nil || ver.Version != "test" {
		t.Fatalf("version = %+v, err %v", ver, err)
	}
}

func TestComputeDelta(t *testing.T) {
	old := map[string]core.Resource{
		"exec:a": {ID: "exec:a", Status: core.StatusRunning},
		"exec:b": {ID: "exec:b", Status: core.StatusRunning},
		"exec:c": {ID: "exec:c", Status: core.StatusRunning},
	}
	new := map[string]core.Resource{
		"exec:a": {ID: "exec:a", Status: core.StatusRunning}, // unchanged
		"exec:b": {ID: "exec:b", Status: core.StatusStopped}, // updated
		"exec:d": {ID: "exec:d", Status: core.StatusRunning}, // added
	}

	d := computeDelta(old, new)
	if len(d.Added) != 1 || d.Added[0].ID != "exec:d" {
		t.Errorf("added = %+v", d.Added)
	}
	if len(d.Updated) != 1 || d.Updated[0].ID != "exec:b" {
		t.Errorf("updated = %+v", d.Updated)
	}
	if len(d.Removed) != 1 || d.Removed[0] != "exec:c" {
		t.Errorf("removed = %+v", d.Removed)
	}
	if !d.HasChanges() {
		t.Error("expected changes")
	}

	empty := computeDelta(new, new)
	if empty.HasChanges() {
		t.Errorf("no-op delta has changes: %+v", empty)
	}
}
