package deskshare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"deskshare/pkg/blockstream"
	"deskshare/pkg/metrics"
	"deskshare/pkg/room"
	"deskshare/pkg/viewer"
)

// Server wires the presenter listener to the room state, the viewer hub and
// the HTTP API.
type Server struct {
	config      *Config
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	rooms       *room.Manager
	hub         *viewer.Hub
	blockstream *blockstream.Server
	http        *http.Server
	channel     chan interface{}
	owners      map[string]string // room -> presenter session, event loop only
	done        chan struct{}
	loopDone    chan struct{}
}

func NewServer(config *Config) *Server {
	registry := prometheus.NewRegistry()
	m := metrics.New(metrics.Config{Registry: registry})
	rooms := room.NewManager(config.Room.MaxBlockDeltas, m)
	channel := make(chan interface{}, 64)

	s := &Server{
		config:      config,
		registry:    registry,
		metrics:     m,
		rooms:       rooms,
		hub:         viewer.NewHub(rooms, config.Viewer.SendQueueSize, m),
		blockstream: blockstream.NewServer(config.ServerConfig(), channel, m),
		channel:     channel,
		owners:      make(map[string]string),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	s.http = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start listens on the configured ports.
func (s *Server) Start() error {
	presenterLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.BlockStream.Port))
	if err != nil {
		return fmt.Errorf("blockstream listen: %w", err)
	}
	httpLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.HTTP.Port))
	if err != nil {
		_ = presenterLn.Close()
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(presenterLn, httpLn)
}

// Serve runs the server on already open listeners.
func (s *Server) Serve(presenterLn, httpLn net.Listener) error {
	slog.Info("Start Server")

	go s.eventLoop()

	if err := s.blockstream.Serve(presenterLn); err != nil {
		return err
	}

	go func() {
		slog.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "err", err)
		}
	}()
	return nil
}

func (s *Server) Stop() {
	slog.Info("Stopping deskshare server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.Error("HTTP shutdown failed", "err", err)
	}
	s.hub.Close()

	s.blockstream.Stop()

	close(s.done)
	<-s.loopDone
	slog.Info("Deskshare server stopped successfully")
}

// PresenterAddr returns the block-stream listener address.
func (s *Server) PresenterAddr() net.Addr {
	return s.blockstream.Addr()
}

func (s *Server) eventLoop() {
	defer close(s.loopDone)

	for {
		select {
		case data := <-s.channel:
			s.channelHandler(data)
		case <-s.done:
			slog.Info("Deskshare event loop stopping...")
			return
		}
	}
}

func (s *Server) channelHandler(data interface{}) {
	switch v := data.(type) {
	case blockstream.PresenterEvent:
		s.trackOwner(v)
		s.hub.Dispatch(v.Event)
	case blockstream.ConnectionOpened:
		slog.Debug("Presenter session opened", "sessionId", v.SessionId, "remoteAddr", v.RemoteAddr)
	case blockstream.ConnectionClosed:
		s.presenterGone(v)
	default:
		slog.Warn("Unknown channel message", "type", fmt.Sprintf("%T", data))
	}
}

// trackOwner records which presenter session runs each room. The latest
// CaptureStart wins, so a presenter that reconnects takes over its room.
func (s *Server) trackOwner(e blockstream.PresenterEvent) {
	switch v := e.Event.(type) {
	case blockstream.CaptureStart:
		if prev, ok := s.owners[v.Room]; ok && prev != e.SessionId {
			slog.Info("Room taken over by new presenter", "room", v.Room, "sessionId", e.SessionId, "previousSessionId", prev)
		}
		s.owners[v.Room] = e.SessionId
	case blockstream.CaptureEnd:
		if s.owners[v.Room] == e.SessionId {
			delete(s.owners, v.Room)
		}
	}
}

// presenterGone ends the capture of a presenter that disconnected without
// sending CaptureEnd, so viewers are not left on a frozen screen. A session
// that no longer owns its room leaves the room alone.
func (s *Server) presenterGone(e blockstream.ConnectionClosed) {
	if e.Room == "" {
		return
	}
	if owner, ok := s.owners[e.Room]; !ok || owner != e.SessionId {
		slog.Debug("Closed session does not own its room", "room", e.Room, "sessionId", e.SessionId)
		return
	}
	delete(s.owners, e.Room)

	if !s.config.Room.EndOnDisconnect {
		return
	}
	r := s.rooms.Get(e.Room)
	if r == nil || !r.Active() {
		return
	}

	seq := r.Snapshot().Sequence + 1
	slog.Info("Ending capture of disconnected presenter", "room", e.Room, "sessionId", e.SessionId, "reason", e.Reason)
	s.hub.Dispatch(blockstream.CaptureEnd{Room: e.Room, Sequence: seq})
}
