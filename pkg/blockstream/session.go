package blockstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"deskshare/pkg/metrics"
)

// session reads one presenter connection and forwards what it decodes.
type session struct {
	sessionId       string
	conn            net.Conn
	decoder         *Decoder
	config          ServerConfig
	externalChannel chan<- interface{}
	metrics         *metrics.Metrics
	logger          *slog.Logger
	ctx             context.Context
}

func newSession(ctx context.Context, conn net.Conn, config ServerConfig, externalChannel chan<- interface{}, m *metrics.Metrics) *session {
	s := &session{
		conn:            conn,
		config:          config,
		externalChannel: externalChannel,
		metrics:         m,
		ctx:             ctx,
	}
	s.sessionId = fmt.Sprintf("%p", s)
	s.logger = slog.Default().With("sessionId", s.sessionId, "remoteAddr", conn.RemoteAddr().String())
	s.decoder = NewDecoder(
		WithLogger(s.logger),
		WithBufferSize(config.ReadBufferSize),
		WithMaxFrameSize(config.MaxFrameSize),
	)
	return s
}

// handleRead runs until the connection fails, the server stops or the room
// mismatch limit is reached.
func (s *session) handleRead() {
	defer closeWithLog(s.conn)

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	s.send(ConnectionOpened{SessionId: s.sessionId, RemoteAddr: s.conn.RemoteAddr().String()})
	s.logger.Info("Presenter connected")

	reason := s.readLoop()

	room, _ := s.decoder.Room()
	s.logger.Info("Presenter disconnected", "room", room, "reason", reason)
	s.send(ConnectionClosed{SessionId: s.sessionId, Room: room, Reason: reason})
}

func (s *session) readLoop() string {
	buf := make([]byte, s.config.ReadBufferSize)
	sink := SinkFunc(s.forward)

	for {
		if s.config.IdleTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout)); err != nil {
				return fmt.Sprintf("set deadline: %v", err)
			}
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			s.metrics.BytesReceived(n)
			res := s.decoder.Feed(buf[:n], sink)
			s.observe(res)

			if limit := s.config.MaxRoomMismatches; limit > 0 && s.decoder.Mismatches() >= limit {
				s.logger.Warn("Closing connection after repeated room mismatches", "mismatches", s.decoder.Mismatches())
				return "room mismatch limit"
			}
		}

		if err != nil {
			return closeReason(s.ctx, err)
		}
	}
}

func (s *session) observe(res FeedResult) {
	s.metrics.FramesDecoded(res.Frames)
	s.metrics.RoomMismatches(res.Mismatches)
	for _, err := range res.Dropped {
		s.metrics.FrameDropped(DropReason(err))
	}
}

func (s *session) forward(e Event) {
	s.metrics.Event(e.Type().String())
	s.send(PresenterEvent{SessionId: s.sessionId, Event: e})
}

// send delivers to the server channel unless the server is shutting down.
func (s *session) send(v interface{}) {
	select {
	case s.externalChannel <- v:
	case <-s.ctx.Done():
	}
}

func closeReason(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return "server stopping"
	case errors.Is(err, io.EOF):
		return "eof"
	case errors.Is(err, os.ErrDeadlineExceeded):
		return "idle timeout"
	default:
		return err.Error()
	}
}
