package uds

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modoterra/logtap/pkg/core"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	sock := filepath.Join(dir, "test.sock")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	srv := NewServer(sock, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(srv.Shutdown)

	go srv.Start(ctx)

	for i := 0; i < 50; i++ {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return srv, sock
}

func TestPingRoundTrip(t *testing.T) {
	srv, sock := startServer(t)
	srv.Handle(MethodPing, func(_ context.Context, _ net.Conn, _ Message) (any, error) {
		return PingResponse{Pong: true}, nil
	})

	client, err := Dial(sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, MethodPing, nil)
	if err != nil {
		t.Fatalf("ping request: %v", err)
	}

	var pong PingResponse
	if err := json.Unmarshal(resp.Data, &pong); err != nil {
		t.Fatalf("unmarshal pong: %v", err)
	}
	if !pong.Pong {
		t.Error("expected pong")
	}
}

func TestUnknownMethod(t *testing.T) {
	_, sock := startServer(t)

	client, err := Dial(sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := client.Request(ctx, "Bogus", nil); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestEventDelivery(t *testing.T) {
	srv, sock := startServer(t)

	client, err := Dial(sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	got := make(chan Message, 1)
	client.OnEvent(func(msg Message) {
		got <- msg
	})

	// Give the server a moment to register the connection.
	time.Sleep(50 * time.Millisecond)

	evt, err := NewEvent(EventLogsBatch, LogsBatchEvent{
		ResourceID: "container:web",
		Entries: core.LogEntryBatch{
			{LineNumber: 1, Content: "hello", IsError: false},
		},
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	srv.Broadcast(evt)

	select {
	case msg := <-got:
		if msg.Method != EventLogsBatch {
			t.Errorf("method = %q", msg.Method)
		}
		var batch LogsBatchEvent
		if err := msg.UnmarshalData(&batch); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if batch.ResourceID != "container:web" || len(batch.Entries) != 1 {
			t.Errorf("batch = %+v", batch)
		}
		if batch.Entries[0].LineNumber != 1 || batch.Entries[0].Content != "hello" {
			t.Errorf("entry = %+v", batch.Entries[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestClientClosedCallback(t *testing.T) {
	srv, sock := startServer(t)

	closed := make(chan struct{}, 1)
	srv.OnClientClosed(func(_ net.Conn) {
		closed <- struct{}{}
	})

	client, err := Dial(sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	client.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("closed callback not invoked")
	}
}
