package mux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/modoterra/logtap/pkg/core"
)

// streamReader reads one log stream to completion, numbering each line
// from 1 and pushing it into the shared sink. It is the sole writer of
// its stream's entries and owns the underlying stream.
type streamReader struct {
	res    core.Resource
	kind   core.StreamKind
	stream io.ReadCloser
	sink   *sink
	// cancel tears down the whole session; called when this stream's
	// read fails so sibling readers stop promptly.
	cancel context.CancelFunc
	logger *slog.Logger
}

// run reads lines until EOF, cancellation, or a read error. EOF just
// stops contributing. A cancellation-kind error exits silently. Any other
// error is logged with resource context and faults the sink for everyone.
func (r *streamReader) run(ctx context.Context) {
	defer r.stream.Close()

	scanner := bufio.NewScanner(r.stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		r.sink.push(core.LogEntry{
			LineNumber: lineNumber,
			Content:    scanner.Text(),
			IsError:    r.kind.IsError(),
		})
	}

	err := scanner.Err()
	if err == nil {
		return
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	r.logger.Error("log stream read failed",
		"resource_kind", r.res.Kind,
		"resource", r.res.Name,
		"stream", r.kind,
		"err", err)
	r.sink.fault(fmt.Errorf("read %s stream of %s: %w", r.kind, r.res.Name, err))
	r.cancel()
}
