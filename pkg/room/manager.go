package room

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"deskshare/pkg/blockstream"
	"deskshare/pkg/metrics"
)

// Manager keeps one Room per room id and folds decoded events into them.
type Manager struct {
	rooms     map[string]*Room
	mu        sync.RWMutex
	maxDeltas int
	metrics   *metrics.Metrics
}

func NewManager(maxDeltas int, m *metrics.Metrics) *Manager {
	return &Manager{
		rooms:     make(map[string]*Room),
		maxDeltas: maxDeltas,
		metrics:   m,
	}
}

// Apply updates the room named by the event. It returns false when the
// event was dropped and should not reach viewers. Only CaptureStart creates
// a room; updates and pointer moves for unknown rooms are dropped.
func (m *Manager) Apply(e blockstream.Event) bool {
	switch v := e.(type) {
	case blockstream.CaptureStart:
		m.getOrCreate(v.Room).Start(v)
		m.updateGauge()
		return true
	case blockstream.CaptureUpdate:
		r := m.Get(v.Room)
		if r == nil {
			slog.Debug("CaptureUpdate for unknown room", "room", v.Room, "seq", v.Sequence)
			return false
		}
		return r.Update(v)
	case blockstream.MouseLocation:
		r := m.Get(v.Room)
		if r == nil {
			slog.Debug("MouseLocation for unknown room", "room", v.Room, "seq", v.Sequence)
			return false
		}
		r.Mouse(v)
		return true
	case blockstream.CaptureEnd:
		r := m.Get(v.Room)
		if r == nil {
			slog.Warn("CaptureEnd for unknown room", "room", v.Room)
			return true
		}
		r.End(v)
		m.Remove(v.Room)
		return true
	default:
		slog.Warn("Unknown event type", "eventType", fmt.Sprintf("%T", e))
		return false
	}
}

func (m *Manager) getOrCreate(name string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[name]; ok {
		return r
	}
	r := NewRoom(name, m.maxDeltas)
	m.rooms[name] = r
	slog.Info("Room created", "room", name)
	return r
}

// Get returns the room or nil.
func (m *Manager) Get(name string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[name]
}

func (m *Manager) Remove(name string) {
	m.mu.Lock()
	delete(m.rooms, name)
	m.mu.Unlock()

	m.updateGauge()
	slog.Info("Room removed", "room", name)
}

// Names returns the known room ids, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.rooms))
	for name := range m.rooms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// SnapshotEvents returns the replay sequence for a late viewer of room.
func (m *Manager) SnapshotEvents(name string) []blockstream.Event {
	r := m.Get(name)
	if r == nil {
		return nil
	}
	return r.Snapshot().Events()
}

func (m *Manager) updateGauge() {
	active := 0
	m.mu.RLock()
	for _, r := range m.rooms {
		if r.Active() {
			active++
		}
	}
	m.mu.RUnlock()
	m.metrics.SetActiveRooms(active)
}
