package deskshare

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deskshare/pkg/viewer"
)

// RoomInfo is the summary returned by the rooms API.
type RoomInfo struct {
	Room      string       `json:"room"`
	Active    bool         `json:"active"`
	Sequence  uint32       `json:"seq"`
	Screen    *viewer.Size `json:"screen,omitempty"`
	Tile      *viewer.Size `json:"tile,omitempty"`
	Blocks    int          `json:"blocks"`
	Viewers   int          `json:"viewers"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Router returns the HTTP API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", s.handleListRooms)
		r.Get("/{room}", s.handleGetRoom)
		r.Get("/{room}/ws", s.handleViewer)
	})
	return r
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	names := s.rooms.Names()
	infos := make([]RoomInfo, 0, len(names))
	for _, name := range names {
		if info, ok := s.roomInfo(name); ok {
			infos = append(infos, info)
		}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	info, ok := s.roomInfo(chi.URLParam(r, "room"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, chi.URLParam(r, "room"))
}

func (s *Server) roomInfo(name string) (RoomInfo, bool) {
	rm := s.rooms.Get(name)
	if rm == nil {
		return RoomInfo{}, false
	}

	snap := rm.Snapshot()
	info := RoomInfo{
		Room:      snap.Room,
		Active:    snap.Start != nil,
		Sequence:  snap.Sequence,
		Blocks:    len(snap.Blocks),
		Viewers:   s.hub.ViewerCount(name),
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.Start != nil {
		info.Screen = &viewer.Size{Width: snap.Start.ScreenDim.Width, Height: snap.Start.ScreenDim.Height}
		info.Tile = &viewer.Size{Width: snap.Start.BlockDim.Width, Height: snap.Start.BlockDim.Height}
	}
	return info, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "err", err)
	}
}
