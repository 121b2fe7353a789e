// Package mux aggregates the concurrently produced log streams of one
// workload into a single batched sequence. Each opened stream gets its own
// reader goroutine; all readers write into one unbounded fan-in sink that
// a single consumer drains batch by batch. Order is preserved within a
// stream, never across streams. A read failure on any one stream faults
// the whole sequence; surviving streams are not continued.
package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/modoterra/logtap/pkg/compat"
	"github.com/modoterra/logtap/pkg/core"
)

// ErrNotCancellable is returned when StreamResourceLogs is handed a context
// that can never be cancelled. Streams are followed indefinitely, so an
// uncancellable context would leak readers that can never be stopped.
var ErrNotCancellable = errors.New("context must be cancellable")

// Muxer opens and multiplexes the log streams of resources through a
// SourceOpener.
type Muxer struct {
	opener core.SourceOpener
	logger *slog.Logger
}

// New creates a Muxer backed by the given opener.
func New(opener core.SourceOpener, logger *slog.Logger) *Muxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Muxer{opener: opener, logger: logger}
}

// SelectStreamKinds decides which stream kinds to open for a resource.
// Stdout and stderr are always opened. The startup-phase streams exist
// only for container workloads, and only when the platform is recent
// enough to serve them.
func SelectStreamKinds(isContainer bool, platform compat.Version) []core.StreamKind {
	if isContainer && platform.AtLeast(compat.MinStartupStreams) {
		return []core.StreamKind{
			core.StreamStartupStdOut,
			core.StreamStartupStdErr,
			core.StreamStdOut,
			core.StreamStdErr,
		}
	}
	return []core.StreamKind{core.StreamStdOut, core.StreamStdErr}
}

// Batches is the consumer side of one streaming session: a lazy, finite,
// non-restartable sequence of entry batches.
type Batches struct {
	sink *sink
}

// Next blocks until at least one entry is available or the session is
// over, then returns everything buffered as one batch. It returns io.EOF
// once all streams have ended, the stream's error if a read failed, or
// ctx.Err() if ctx is cancelled.
func (b *Batches) Next(ctx context.Context) (core.LogEntryBatch, error) {
	return b.sink.drain(ctx)
}

// StreamResourceLogs opens the selected log streams of res and returns the
// batched sequence over their combined output. The returned sequence ends
// normally when every stream ends, with an error if any stream read fails,
// and with ctx.Err() if ctx is cancelled.
//
// ctx must be cancellable; reader goroutines and the open streams live
// until it fires or every stream ends.
func (m *Muxer) StreamResourceLogs(ctx context.Context, res core.Resource, platform compat.Version) (*Batches, error) {
	if ctx.Done() == nil {
		return nil, fmt.Errorf("stream logs for %s: %w", res.Name, ErrNotCancellable)
	}

	kinds := SelectStreamKinds(res.IsContainer(), platform)
	opts := core.OpenOptions{Follow: true, Timestamps: res.IsContainer()}

	sessionCtx, cancel := context.WithCancel(ctx)

	streams := make([]io.ReadCloser, 0, len(kinds))
	for _, kind := range kinds {
		stream, err := m.opener.OpenLogStream(sessionCtx, res, kind, opts)
		if err != nil {
			cancel()
			for _, s := range streams {
				s.Close()
			}
			return nil, fmt.Errorf("open %s stream of %s: %w", kind, res.Name, err)
		}
		streams = append(streams, stream)
	}

	sk := newSink()
	var wg sync.WaitGroup
	for i, kind := range kinds {
		r := &streamReader{
			res:    res,
			kind:   kind,
			stream: streams[i],
			sink:   sk,
			cancel: cancel,
			logger: m.logger,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.run(sessionCtx)
		}()
	}

	// Coordinator: once every reader has exited, for whatever reason,
	// terminate the session and complete the sink. Completion is a no-op
	// if a reader already faulted it.
	go func() {
		wg.Wait()
		cancel()
		sk.complete()
	}()

	return &Batches{sink: sk}, nil
}
