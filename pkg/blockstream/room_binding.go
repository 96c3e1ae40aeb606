package blockstream

import "log/slog"

// roomBinding remembers the room a connection announced in its last
// CaptureStart. Only one room per connection is tracked; a presenter that
// shares into two rooms over one socket will be reported as mismatching.
type roomBinding struct {
	room       string
	bound      bool
	mismatches int
}

// check compares room against the bound one. A mismatch is only logged; the
// caller keeps using the room it decoded.
func (b *roomBinding) check(logger *slog.Logger, room string) bool {
	if !b.bound || b.room == room {
		return true
	}
	b.mismatches++
	logger.Warn("room differs from the one bound to this connection",
		"room", room, "boundRoom", b.room, "mismatches", b.mismatches)
	return false
}

func (b *roomBinding) bind(room string) {
	b.room = room
	b.bound = true
}
