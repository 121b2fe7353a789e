package core

// StreamKind identifies one log output channel of a workload.
type StreamKind string

const (
	StreamStartupStdOut StreamKind = "startup_stdout"
	StreamStartupStdErr StreamKind = "startup_stderr"
	StreamStdOut        StreamKind = "stdout"
	StreamStdErr        StreamKind = "stderr"
)

// IsError reports the fixed error classification for lines of this kind.
func (k StreamKind) IsError() bool {
	return k == StreamStdErr || k == StreamStartupStdErr
}

// Startup reports whether this kind belongs to the workload's startup phase.
func (k StreamKind) Startup() bool {
	return k == StreamStartupStdOut || k == StreamStartupStdErr
}
