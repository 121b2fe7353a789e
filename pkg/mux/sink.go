package mux

import (
	"context"
	"io"
	"sync"

	"github.com/modoterra/logtap/pkg/core"
)

type sinkState int

const (
	sinkOpen sinkState = iota
	sinkCompleted
	sinkFaulted
)

// sink is the unbounded fan-in buffer between the per-stream readers and
// the single batch consumer. Pushes never block and never fail while the
// readers are alive; the coordinator completes the sink only after every
// reader has exited, so a push after completion is a protocol bug.
//
// The sink goes through exactly one terminal transition, complete or
// fault, and never leaves it.
type sink struct {
	mu      sync.Mutex
	entries []core.LogEntry
	state   sinkState
	err     error

	// wake carries at most one pending notification for the consumer.
	wake chan struct{}
}

func newSink() *sink {
	return &sink{wake: make(chan struct{}, 1)}
}

// push appends one entry. Entries arriving after a fault are still
// buffered; the consumer drains them before seeing the error.
func (s *sink) push(e core.LogEntry) {
	s.mu.Lock()
	if s.state == sinkCompleted {
		s.mu.Unlock()
		panic("mux: push on completed sink")
	}
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	s.notify()
}

func (s *sink) complete() {
	s.mu.Lock()
	if s.state == sinkOpen {
		s.state = sinkCompleted
	}
	s.mu.Unlock()
	s.notify()
}

func (s *sink) fault(err error) {
	s.mu.Lock()
	if s.state == sinkOpen {
		s.state = sinkFaulted
		s.err = err
	}
	s.mu.Unlock()
	s.notify()
}

func (s *sink) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drain blocks until at least one entry is buffered or the sink is
// terminal, then removes and returns everything buffered. A completed,
// empty sink yields io.EOF; a faulted one yields its error.
func (s *sink) drain(ctx context.Context) (core.LogEntryBatch, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mu.Lock()
		if len(s.entries) > 0 {
			batch := core.LogEntryBatch(s.entries)
			s.entries = nil
			s.mu.Unlock()
			return batch, nil
		}
		switch s.state {
		case sinkCompleted:
			s.mu.Unlock()
			return nil, io.EOF
		case sinkFaulted:
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.wake:
		}
	}
}
