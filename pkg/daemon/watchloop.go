package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/modoterra/logtap/pkg/core"
	"github.com/modoterra/logtap/pkg/transport/uds"
)

// WatchLoop refreshes all sources every interval and emits delta events.
type WatchLoop struct {
	daemon   *Daemon
	interval time.Duration
	logger   *slog.Logger
}

// NewWatchLoop creates a watch loop for the given daemon.
func NewWatchLoop(d *Daemon, interval time.Duration, logger *slog.Logger) *WatchLoop {
	return &WatchLoop{daemon: d, interval: interval, logger: logger}
}

// Run starts the watch loop. Blocks until ctx is cancelled.
func (wl *WatchLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(wl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wl.tick(ctx)
		}
	}
}

func (wl *WatchLoop) tick(ctx context.Context) {
	newResources := make(map[string]core.Resource)

	for _, src := range wl.daemon.sources {
		items, err := src.List(ctx)
		if err != nil {
			wl.logger.Error("source list error", "source", src.Name(), "err", err)
			continue
		}
		for _, res := range items {
			newResources[res.ID] = res
		}
	}

	wl.daemon.mu.Lock()
	oldResources := wl.daemon.resources
	wl.daemon.resources = newResources
	wl.daemon.mu.Unlock()

	delta := computeDelta(oldResources, newResources)
	if delta.HasChanges() {
		evt, err := uds.NewEvent(uds.EventResourcesDelta, delta)
		if err == nil {
			wl.daemon.Server().Broadcast(evt)
		}
	}
}

// Delta represents changes between watch cycles.
type Delta struct {
	Added   []core.Resource `json:"added,omitempty"`
	Updated []core.Resource `json:"updated,omitempty"`
	Removed []string        `json:"removed,omitempty"`
}

// HasChanges returns true if the delta contains any changes.
func (d Delta) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Updated) > 0 || len(d.Removed) > 0
}

func computeDelta(old, new map[string]core.Resource) Delta {
	var d Delta

	for id, res := range new {
		prev, existed := old[id]
		if !existed {
			d.Added = append(d.Added, res)
		} else if prev.Status != res.Status {
			d.Updated = append(d.Updated, res)
		}
	}

	for id := range old {
		if _, exists := new[id]; !exists {
			d.Removed = append(d.Removed, id)
		}
	}

	return d
}
