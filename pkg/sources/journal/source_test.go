package journal

import (
	"log/slog"
	"os"
	"testing"

	"github.com/modoterra/logtap/pkg/core"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		active, sub string
		want        core.Status
	}{
		{"active", "running", core.StatusRunning},
		{"active", "exited", core.StatusRunning},
		{"inactive", "dead", core.StatusStopped},
		{"deactivating", "stop-sigterm", core.StatusStopped},
		{"failed", "failed", core.StatusFailed},
		{"activating", "start", core.StatusUnknown},
	}
	for _, tt := range tests {
		if got := mapStatus(tt.active, tt.sub); got != tt.want {
			t.Errorf("mapStatus(%q, %q) = %q, want %q", tt.active, tt.sub, got, tt.want)
		}
	}
}

func TestUnitFor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s := New(logger)
	s.AddUnit(core.Resource{Name: "web", Unit: "nginx.service"})

	if got := s.unitFor("web"); got != "nginx.service" {
		t.Errorf("registered unit: got %q", got)
	}
	if got := s.unitFor("redis"); got != "redis.service" {
		t.Errorf("bare name: got %q", got)
	}
	if got := s.unitFor("tmp.mount"); got != "tmp.mount" {
		t.Errorf("qualified name: got %q", got)
	}
}
