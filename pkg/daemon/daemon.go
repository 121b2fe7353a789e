// Package daemon is the logtapd process: it registers resource sources,
// tracks resource state, and streams multiplexed logs to clients over the
// Unix socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/modoterra/logtap/pkg/compat"
	"github.com/modoterra/logtap/pkg/core"
	"github.com/modoterra/logtap/pkg/mux"
	"github.com/modoterra/logtap/pkg/transport/uds"
)

// Daemon is the main logtapd process.
type Daemon struct {
	server    *uds.Server
	sources   map[core.Kind]core.Source
	muxer     *mux.Muxer
	platform  compat.Version
	version   string
	resources map[string]core.Resource
	streams   map[streamKey]context.CancelFunc
	mu        sync.RWMutex
	logger    *slog.Logger
}

// streamKey identifies one client's subscription to one resource.
type streamKey struct {
	conn       net.Conn
	resourceID string
}

// New creates a new daemon instance.
func New(socketPath, version string, logger *slog.Logger) *Daemon {
	srv := uds.NewServer(socketPath, logger)
	d := &Daemon{
		server:    srv,
		sources:   make(map[core.Kind]core.Source),
		version:   version,
		resources: make(map[string]core.Resource),
		streams:   make(map[streamKey]context.CancelFunc),
		logger:    logger,
	}
	d.muxer = mux.New(sourceRouter{d}, logger)
	d.registerHandlers()
	srv.OnClientClosed(d.dropClientStreams)
	return d
}

// AddSource registers a source for a resource kind.
func (d *Daemon) AddSource(kind core.Kind, s core.Source) {
	d.sources[kind] = s
}

// AddResource registers a resource in the daemon's registry.
func (d *Daemon) AddResource(res core.Resource) {
	d.mu.Lock()
	d.resources[res.ID] = res
	d.mu.Unlock()
}

// SetPlatformVersion records the container platform's API version, which
// gates whether startup streams are requested for containers.
func (d *Daemon) SetPlatformVersion(v compat.Version) {
	d.mu.Lock()
	d.platform = v
	d.mu.Unlock()
}

// Run starts the daemon and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	return d.server.Start(ctx)
}

// Shutdown cleans up resources.
func (d *Daemon) Shutdown() {
	d.mu.Lock()
	for _, cancel := range d.streams {
		cancel()
	}
	d.streams = make(map[streamKey]context.CancelFunc)
	d.mu.Unlock()
	d.server.Shutdown()
}

// Server returns the underlying UDS server (for broadcasting events).
func (d *Daemon) Server() *uds.Server {
	return d.server
}

// sourceRouter dispatches stream opens to the source registered for the
// resource's kind.
type sourceRouter struct {
	d *Daemon
}

func (r sourceRouter) OpenLogStream(ctx context.Context, res core.Resource, kind core.StreamKind, opts core.OpenOptions) (io.ReadCloser, error) {
	src, ok := r.d.sources[res.Kind]
	if !ok {
		return nil, fmt.Errorf("no source for kind %q", res.Kind)
	}
	return src.OpenLogStream(ctx, res, kind, opts)
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodVersion, d.handleVersion)
	d.server.Handle(uds.MethodListResources, d.handleListResources)
	d.server.Handle(uds.MethodAction, d.handleAction)
	d.server.Handle(uds.MethodLogsSubscribe, d.handleLogsSubscribe)
	d.server.Handle(uds.MethodLogsUnsubscribe, d.handleLogsUnsubscribe)
}

func (d *Daemon) handlePing(_ context.Context, _ net.Conn, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true}, nil
}

func (d *Daemon) handleVersion(_ context.Context, _ net.Conn, _ uds.Message) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	resp := uds.VersionResponse{Version: d.version}
	if d.platform != (compat.Version{}) {
		resp.PlatformVersion = d.platform.String()
	}
	return resp, nil
}

func (d *Daemon) handleListResources(_ context.Context, _ net.Conn, _ uds.Message) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	items := make([]core.Resource, 0, len(d.resources))
	for _, res := range d.resources {
		items = append(items, res)
	}
	return items, nil
}

func (d *Daemon) handleAction(ctx context.Context, _ net.Conn, msg uds.Message) (any, error) {
	var req uds.ActionRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	kind, _, err := core.ParseResourceID(req.ResourceID)
	if err != nil {
		return nil, err
	}

	src, ok := d.sources[kind]
	if !ok {
		return nil, fmt.Errorf("no source for kind %q", kind)
	}
	if err := src.Action(ctx, req.ResourceID, req.Action); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (d *Daemon) handleLogsSubscribe(ctx context.Context, conn net.Conn, msg uds.Message) (any, error) {
	var req uds.LogsSubscribeRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	d.mu.Lock()
	res, ok := d.resources[req.ResourceID]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("resource not found: %s", req.ResourceID)
	}
	key := streamKey{conn: conn, resourceID: req.ResourceID}
	if _, exists := d.streams[key]; exists {
		d.mu.Unlock()
		return map[string]bool{"ok": true}, nil
	}
	streamCtx, cancel := context.WithCancel(ctx)
	d.streams[key] = cancel
	platform := d.platform
	d.mu.Unlock()

	batches, err := d.muxer.StreamResourceLogs(streamCtx, res, platform)
	if err != nil {
		d.removeStream(key)
		cancel()
		return nil, err
	}

	go d.forwardBatches(streamCtx, key, batches)
	return map[string]bool{"ok": true}, nil
}

func (d *Daemon) handleLogsUnsubscribe(_ context.Context, conn net.Conn, msg uds.Message) (any, error) {
	var req uds.LogsUnsubscribeRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	key := streamKey{conn: conn, resourceID: req.ResourceID}
	d.mu.Lock()
	cancel, ok := d.streams[key]
	delete(d.streams, key)
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return map[string]bool{"ok": true}, nil
}

// forwardBatches pumps the batched sequence to the subscribed client
// until it ends, then reports how it ended.
func (d *Daemon) forwardBatches(ctx context.Context, key streamKey, batches *mux.Batches) {
	defer d.removeStream(key)

	for {
		batch, err := batches.Next(ctx)
		if len(batch) > 0 {
			evt, merr := uds.NewEvent(uds.EventLogsBatch, uds.LogsBatchEvent{
				ResourceID: key.resourceID,
				Entries:    batch,
			})
			if merr == nil {
				if serr := d.server.Send(key.conn, evt); serr != nil {
					return
				}
			}
		}
		if err == nil {
			continue
		}

		end := uds.LogsEndEvent{ResourceID: key.resourceID}
		switch {
		case errors.Is(err, io.EOF):
		case errors.Is(err, context.Canceled):
		default:
			end.Error = err.Error()
		}
		if evt, merr := uds.NewEvent(uds.EventLogsEnd, end); merr == nil {
			d.server.Send(key.conn, evt)
		}
		return
	}
}

func (d *Daemon) removeStream(key streamKey) {
	d.mu.Lock()
	cancel, ok := d.streams[key]
	delete(d.streams, key)
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

// dropClientStreams cancels every stream belonging to a disconnected
// client.
func (d *Daemon) dropClientStreams(conn net.Conn) {
	d.mu.Lock()
	var cancels []context.CancelFunc
	for key, cancel := range d.streams {
		if key.conn == conn {
			cancels = append(cancels, cancel)
			delete(d.streams, key)
		}
	}
	d.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
