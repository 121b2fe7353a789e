package core

import (
	"fmt"
	"strings"
)

// Kind represents the type of monitored workload.
type Kind string

const (
	KindContainer Kind = "container"
	KindSystemd   Kind = "systemd"
	KindExec      Kind = "exec"
	KindFile      Kind = "file"
)

// Status represents the current state of a resource.
type Status string

const (
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusFailed     Status = "failed"
	StatusUnknown    Status = "unknown"
	StatusRestarting Status = "restarting"
)

// RestartPolicy defines how a supervised exec process should be restarted.
type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartNever     RestartPolicy = "never"
)

// Resource identifies one monitored workload. It is owned by the caller and
// read-only to the streaming core; only Kind and Name are meaningful there,
// the rest is source-specific addressing filled in from the config.
type Resource struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
	Status Status `json:"status"`

	// container
	Container     string `json:"container,omitempty"`
	InitContainer string `json:"init_container,omitempty"`

	// systemd
	Unit string `json:"unit,omitempty"`

	// exec
	Command string            `json:"command,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Restart string            `json:"restart,omitempty"`

	// file
	File      string `json:"file,omitempty"`
	ErrorFile string `json:"error_file,omitempty"`
}

// IsContainer reports whether the resource is a container-like workload.
// Container workloads have a startup phase with its own log streams and
// support timestamped log output.
func (r Resource) IsContainer() bool {
	return r.Kind == KindContainer
}

// ResourceID constructs a resource ID from its components.
// Format: kind:name
func ResourceID(kind Kind, name string) string {
	return fmt.Sprintf("%s:%s", kind, name)
}

// ParseResourceID splits a resource ID into kind and name.
func ParseResourceID(id string) (kind Kind, name string, err error) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid resource ID %q: expected kind:name", id)
	}
	return Kind(parts[0]), parts[1], nil
}
