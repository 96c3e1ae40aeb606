package blockstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"deskshare/pkg/metrics"
)

// ServerConfig configures the presenter listener.
type ServerConfig struct {
	Port              int
	ReadBufferSize    int
	MaxFrameSize      int           // 0 disables the limit
	IdleTimeout       time.Duration // 0 disables read deadlines
	MaxRoomMismatches int           // 0 tolerates mismatches forever
}

// Server accepts presenter connections and publishes PresenterEvent,
// ConnectionOpened and ConnectionClosed on its channel.
type Server struct {
	config   ServerConfig
	sessions map[string]*session
	mu       sync.Mutex
	channel  chan<- interface{}
	metrics  *metrics.Metrics
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewServer(config ServerConfig, channel chan<- interface{}, m *metrics.Metrics) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = DefaultReadBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:   config,
		sessions: make(map[string]*session),
		channel:  channel,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Server) Start() error {
	ln, err := s.createListener()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln in the background.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptConnections(ln)

	slog.Info("Block stream server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every presenter connection, then waits for
// the session goroutines to finish.
func (s *Server) Stop() {
	slog.Info("Block stream server stopping...")
	s.cancel()

	s.mu.Lock()
	if s.listener != nil {
		closeWithLog(s.listener)
	}
	slog.Info("Closing presenter sessions", "sessionCount", len(s.sessions))
	for _, session := range s.sessions {
		_ = session.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("Block stream server stopped")
}

// SessionCount returns the number of live presenter connections.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) createListener() (net.Listener, error) {
	addr := fmt.Sprintf(":%d", s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("Error starting block stream server", "err", err)
		return nil, err
	}
	return ln, nil
}

func (s *Server) acceptConnections(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				slog.Info("Block stream accept loop stopped")
			default:
				slog.Error("Accept failed", "err", err)
			}
			return
		}

		s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	session := newSession(s.ctx, conn, s.config, s.channel, s.metrics)

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		closeWithLog(conn)
		return
	}
	s.sessions[session.sessionId] = session
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.removeSession(session.sessionId)
		session.handleRead()
	}()
}

func (s *Server) removeSession(sessionId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionId)
}

func closeWithLog(c io.Closer) {
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Error("Error closing resource", "err", err)
	}
}
