package room

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"deskshare/pkg/blockstream"
)

// Room holds the last known state of one shared screen.
type Room struct {
	name string
	mu   sync.RWMutex

	start     *blockstream.CaptureStart
	sequence  uint32
	mouse     *blockstream.MouseLocation
	updatedAt time.Time

	// Per tile: the latest keyframe followed by the deltas sent after it.
	blocks    map[uint16][]blockstream.Block
	maxDeltas int
}

func NewRoom(name string, maxDeltas int) *Room {
	return &Room{
		name:      name,
		blocks:    make(map[uint16][]blockstream.Block),
		maxDeltas: maxDeltas,
	}
}

func (r *Room) Name() string {
	return r.name
}

// Start resets the room for a new capture session.
func (r *Room) Start(e blockstream.CaptureStart) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.start = &e
	r.sequence = e.Sequence
	r.mouse = nil
	r.blocks = make(map[uint16][]blockstream.Block)
	r.updatedAt = time.Now()

	cols, rows := blockstream.Grid(e.ScreenDim, e.BlockDim)
	slog.Info("Capture started", "room", r.name, "seq", e.Sequence, "cols", cols, "rows", rows, "svc2", e.SVC2)
}

// Update caches a block. Blocks outside the grid announced by CaptureStart
// are dropped; before any CaptureStart every index is accepted.
func (r *Room) Update(e blockstream.CaptureUpdate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.start != nil {
		if _, _, ok := r.start.BlockOrigin(e.Block.Index); !ok {
			slog.Warn("Block index outside screen grid, dropping", "room", r.name, "index", e.Block.Index, "blockCount", r.start.BlockCount())
			return false
		}
	}
	r.observeSequence(e.Sequence)

	if e.Block.KeyFrame {
		r.blocks[e.Block.Index] = []blockstream.Block{e.Block}
		return true
	}

	cached, ok := r.blocks[e.Block.Index]
	if !ok {
		// A delta without its keyframe cannot be replayed to a new viewer.
		slog.Debug("Delta block without keyframe", "room", r.name, "index", e.Block.Index)
		return true
	}
	cached = append(cached, e.Block)
	if r.maxDeltas > 0 && len(cached) > r.maxDeltas+1 {
		// Keep the keyframe, drop the oldest deltas.
		cached = append(cached[:1], cached[len(cached)-r.maxDeltas:]...)
	}
	r.blocks[e.Block.Index] = cached
	return true
}

func (r *Room) Mouse(e blockstream.MouseLocation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observeSequence(e.Sequence)
	r.mouse = &e
}

// End clears the cache.
func (r *Room) End(e blockstream.CaptureEnd) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observeSequence(e.Sequence)
	r.start = nil
	r.mouse = nil
	r.blocks = make(map[uint16][]blockstream.Block)
	slog.Info("Capture ended", "room", r.name, "seq", e.Sequence)
}

// Active reports whether a capture session is running.
func (r *Room) Active() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.start != nil
}

// observeSequence logs regressions; the consumer only detects loss and
// reordering, it does not reject events.
func (r *Room) observeSequence(seq uint32) {
	if int32(seq-r.sequence) < 0 {
		slog.Warn("Sequence went backwards", "room", r.name, "last", r.sequence, "seq", seq)
	} else if seq-r.sequence > 1 {
		slog.Debug("Sequence gap", "room", r.name, "last", r.sequence, "seq", seq)
	}
	r.sequence = seq
	r.updatedAt = time.Now()
}

// Snapshot is a copy of a room's state, enough to prime a late viewer.
type Snapshot struct {
	Room      string
	Start     *blockstream.CaptureStart
	Sequence  uint32
	Mouse     *blockstream.MouseLocation
	Blocks    []blockstream.CaptureUpdate
	UpdatedAt time.Time
}

// Events returns the snapshot as the event sequence a viewer would have
// received: CaptureStart, cached blocks in index order, then the pointer.
func (s Snapshot) Events() []blockstream.Event {
	if s.Start == nil {
		return nil
	}
	events := make([]blockstream.Event, 0, len(s.Blocks)+2)
	events = append(events, *s.Start)
	for _, b := range s.Blocks {
		events = append(events, b)
	}
	if s.Mouse != nil {
		events = append(events, *s.Mouse)
	}
	return events
}

func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Room:      r.name,
		Sequence:  r.sequence,
		UpdatedAt: r.updatedAt,
	}
	if r.start != nil {
		start := *r.start
		snap.Start = &start
	}
	if r.mouse != nil {
		mouse := *r.mouse
		snap.Mouse = &mouse
	}

	indices := make([]uint16, 0, len(r.blocks))
	for idx := range r.blocks {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	for _, idx := range indices {
		for _, b := range r.blocks[idx] {
			snap.Blocks = append(snap.Blocks, blockstream.CaptureUpdate{
				Room:     r.name,
				Sequence: r.sequence,
				Block:    b,
			})
		}
	}
	return snap
}
