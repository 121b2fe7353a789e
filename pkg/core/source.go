package core

import (
	"context"
	"io"
)

// OpenOptions controls how a log stream is opened.
type OpenOptions struct {
	// Follow keeps the stream open and continuously delivers new lines.
	Follow bool
	// Timestamps asks the source to prefix each line with its timestamp.
	// Only container sources support this; others ignore it.
	Timestamps bool
}

// SourceOpener opens one newline-delimited byte stream for a resource and
// stream kind. The returned stream must honor ctx: a pending Read must
// unblock with an error once ctx is cancelled. The caller owns the stream
// and closes it.
type SourceOpener interface {
	OpenLogStream(ctx context.Context, res Resource, kind StreamKind, opts OpenOptions) (io.ReadCloser, error)
}

// Source is the interface all resource sources implement. A source knows
// how to enumerate the resources of its kind, perform lifecycle actions on
// them, and open their log streams.
type Source interface {
	// Name returns the source's identifier (e.g. "docker", "systemd").
	Name() string

	// List returns all resources this source currently knows about.
	List(ctx context.Context) ([]Resource, error)

	// Action performs an action on the given resource.
	// Supported actions depend on the source (start, stop, restart).
	Action(ctx context.Context, resourceID string, action string) error

	SourceOpener
}
