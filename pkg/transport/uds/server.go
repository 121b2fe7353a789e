package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
)

// HandlerFunc processes a request and returns a response data payload or
// error. The conn identifies the requesting client for handlers that set
// up per-client streams.
type HandlerFunc func(ctx context.Context, conn net.Conn, req Message) (any, error)

// ClosedFunc is invoked when a client connection goes away, so handlers
// can tear down per-client state.
type ClosedFunc func(conn net.Conn)

// Server listens on a Unix domain socket and dispatches NDJSON messages.
type Server struct {
	socketPath string
	listener   net.Listener
	handlers   map[string]HandlerFunc
	onClosed   []ClosedFunc
	clients    map[net.Conn]*sync.Mutex
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewServer creates a new UDS server.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		clients:    make(map[net.Conn]*sync.Mutex),
		logger:     logger,
	}
}

// Handle registers a handler for a method.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.handlers[method] = h
}

// OnClientClosed registers a callback for disconnecting clients.
func (s *Server) OnClientClosed(f ClosedFunc) {
	s.onClosed = append(s.onClosed, f)
}

// Start begins listening. It removes any stale socket file first.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.socketPath, err)
	}
	s.listener = ln
	s.logger.Info("server listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil // shutting down
			}
			s.logger.Error("accept error", "err", err)
			continue
		}
		s.mu.Lock()
		s.clients[conn] = &sync.Mutex{}
		s.mu.Unlock()
		go s.handleConn(ctx, conn)
	}
}

// Broadcast sends an event to all connected clients.
func (s *Server) Broadcast(msg Message) {
	s.mu.RLock()
	conns := make([]net.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		if err := s.writeMessage(conn, msg); err != nil {
			s.logger.Error("broadcast write error", "err", err)
		}
	}
}

// Send delivers an event to a single client.
func (s *Server) Send(conn net.Conn, msg Message) error {
	return s.writeMessage(conn, msg)
}

// Shutdown cleanly stops the server.
func (s *Server) Shutdown() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()
	os.Remove(s.socketPath)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		for _, f := range s.onClosed {
			f(conn)
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024) // 1MB max line

	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Error("invalid message", "err", err)
			continue
		}

		if msg.Type != MsgTypeReq {
			continue
		}

		handler, ok := s.handlers[msg.Method]
		if !ok {
			s.writeMessage(conn, NewErrorResponse(msg.ID, msg.Method, fmt.Sprintf("unknown method: %s", msg.Method)))
			continue
		}

		result, err := handler(ctx, conn, msg)
		var resp Message
		if err != nil {
			resp = NewErrorResponse(msg.ID, msg.Method, err.Error())
		} else {
			resp, _ = NewResponse(msg.ID, msg.Method, result)
		}
		s.writeMessage(conn, resp)
	}
}

// writeMessage serializes writes per connection so concurrent events and
// responses don't interleave mid-line.
func (s *Server) writeMessage(conn net.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	s.mu.RLock()
	lock, ok := s.clients[conn]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("client gone")
	}

	lock.Lock()
	defer lock.Unlock()
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
