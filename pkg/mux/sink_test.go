package mux

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/modoterra/logtap/pkg/core"
)

func TestSinkDrainReturnsAllBuffered(t *testing.T) {
	s := newSink()
	for i := 1; i <= 3; i++ {
		s.push(core.LogEntry{LineNumber: i, Content: "x"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	batch, err := s.drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("got %d entries in one batch, want 3", len(batch))
	}
}

func TestSinkCompleteEndsDrainAfterBuffered(t *testing.T) {
	s := newSink()
	s.push(core.LogEntry{LineNumber: 1, Content: "last"})
	s.complete()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	batch, err := s.drain(ctx)
	if err != nil || len(batch) != 1 {
		t.Fatalf("drain = (%d entries, %v), want buffered entry first", len(batch), err)
	}
	if _, err := s.drain(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("drain after complete: %v, want io.EOF", err)
	}
}

func TestSinkFaultSurfacesAfterBuffered(t *testing.T) {
	s := newSink()
	s.push(core.LogEntry{LineNumber: 1, Content: "before fault"})
	boom := errors.New("boom")
	s.fault(boom)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	batch, err := s.drain(ctx)
	if err != nil || len(batch) != 1 {
		t.Fatalf("drain = (%d entries, %v), want buffered entry first", len(batch), err)
	}
	if _, err := s.drain(ctx); !errors.Is(err, boom) {
		t.Fatalf("drain after fault: %v, want boom", err)
	}
}

func TestSinkTerminalTransitionIsIrreversible(t *testing.T) {
	s := newSink()
	boom := errors.New("boom")
	s.fault(boom)
	s.complete()
	s.fault(errors.New("second fault"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := s.drain(ctx); !errors.Is(err, boom) {
		t.Fatalf("drain: %v, want the first fault to win", err)
	}
}

func TestSinkPushAfterCompletePanics(t *testing.T) {
	s := newSink()
	s.complete()

	defer func() {
		if recover() == nil {
			t.Fatal("push on completed sink did not panic")
		}
	}()
	s.push(core.LogEntry{LineNumber: 1})
}

func TestSinkDrainBlocksUntilPush(t *testing.T) {
	s := newSink()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(50 * time.Millisecond)
		s.push(core.LogEntry{LineNumber: 1, Content: "late"})
	}()

	batch, err := s.drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(batch) != 1 || batch[0].Content != "late" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}

func TestSinkDrainHonorsContext(t *testing.T) {
	s := newSink()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := s.drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("drain: %v, want deadline exceeded", err)
	}
}
