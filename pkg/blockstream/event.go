package blockstream

import "fmt"

// EventType identifies one of the four block-stream events.
type EventType uint8

const (
	EventCaptureStart  EventType = TAG_CAPTURE_START
	EventCaptureUpdate EventType = TAG_CAPTURE_UPDATE
	EventCaptureEnd    EventType = TAG_CAPTURE_END
	EventMouseLocation EventType = TAG_MOUSE_LOCATION
)

func (t EventType) String() string {
	switch t {
	case EventCaptureStart:
		return "capture_start"
	case EventCaptureUpdate:
		return "capture_update"
	case EventCaptureEnd:
		return "capture_end"
	case EventMouseLocation:
		return "mouse_location"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Dimension is a width and height in pixels.
type Dimension struct {
	Width  int32
	Height int32
}

// Block is one changed tile of the shared screen. Data is opaque to the
// decoder; the sender decides how it is compressed.
type Block struct {
	Index    uint16
	KeyFrame bool
	Data     []byte
}

// Event is a decoded block-stream event. The set of implementations is
// closed: CaptureStart, CaptureUpdate, CaptureEnd and MouseLocation.
type Event interface {
	Type() EventType
	RoomID() string
	Seq() uint32
	isEvent()
}

// CaptureStart opens a capture session for a room.
type CaptureStart struct {
	Room      string
	Sequence  uint32
	ScreenDim Dimension
	BlockDim  Dimension
	SVC2      bool // sender may use layered block encodings
}

// CaptureUpdate carries a single block. One update frame on the wire yields
// one CaptureUpdate per block record, in wire order.
type CaptureUpdate struct {
	Room     string
	Sequence uint32
	Block    Block
}

// CaptureEnd terminates a capture session.
type CaptureEnd struct {
	Room     string
	Sequence uint32
}

// MouseLocation is the presenter's pointer position in screen coordinates.
type MouseLocation struct {
	Room     string
	Sequence uint32
	X        int32
	Y        int32
}

func (CaptureStart) Type() EventType  { return EventCaptureStart }
func (CaptureUpdate) Type() EventType { return EventCaptureUpdate }
func (CaptureEnd) Type() EventType    { return EventCaptureEnd }
func (MouseLocation) Type() EventType { return EventMouseLocation }

func (e CaptureStart) RoomID() string  { return e.Room }
func (e CaptureUpdate) RoomID() string { return e.Room }
func (e CaptureEnd) RoomID() string    { return e.Room }
func (e MouseLocation) RoomID() string { return e.Room }

func (e CaptureStart) Seq() uint32  { return e.Sequence }
func (e CaptureUpdate) Seq() uint32 { return e.Sequence }
func (e CaptureEnd) Seq() uint32    { return e.Sequence }
func (e MouseLocation) Seq() uint32 { return e.Sequence }

func (CaptureStart) isEvent()  {}
func (CaptureUpdate) isEvent() {}
func (CaptureEnd) isEvent()    {}
func (MouseLocation) isEvent() {}

// Grid returns the number of block columns and rows needed to tile screen
// with blocks of the given size. Partial tiles on the right and bottom edges
// count as whole blocks. Dimensions come off the wire, so the rounding is
// done in int64 to stay correct up to math.MaxInt32.
func Grid(screen, block Dimension) (cols, rows int) {
	if block.Width <= 0 || block.Height <= 0 || screen.Width <= 0 || screen.Height <= 0 {
		return 0, 0
	}
	cols = int(ceilDiv(int64(screen.Width), int64(block.Width)))
	rows = int(ceilDiv(int64(screen.Height), int64(block.Height)))
	return cols, rows
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// BlockCount returns how many tiles the session's screen is split into.
func (e CaptureStart) BlockCount() int {
	cols, rows := Grid(e.ScreenDim, e.BlockDim)
	return cols * rows
}

// BlockOrigin returns the top-left pixel of the tile at index in raster-scan
// order. ok is false when index falls outside the grid.
func (e CaptureStart) BlockOrigin(index uint16) (x, y int, ok bool) {
	cols, rows := Grid(e.ScreenDim, e.BlockDim)
	if cols == 0 || int(index) >= cols*rows {
		return 0, 0, false
	}
	col := int(index) % cols
	row := int(index) / cols
	return col * int(e.BlockDim.Width), row * int(e.BlockDim.Height), true
}
