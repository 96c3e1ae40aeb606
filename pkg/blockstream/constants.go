package blockstream

// Frame markers
var (
	header   = []byte{'B', 'B', 'B', '-', 'D', 'S'}
	endFrame = []byte{'D', 'S', '-', 'E', 'N', 'D'}
)

// Event tags
const (
	TAG_CAPTURE_START  = 0
	TAG_CAPTURE_UPDATE = 1
	TAG_CAPTURE_END    = 2
	TAG_MOUSE_LOCATION = 3
)

// Wire sizes
const (
	HEADER_SIZE    = 6
	LENGTH_SIZE    = 4
	END_FRAME_SIZE = 6
	MAX_ROOM_SIZE  = 0xFF
	MAX_BLOCKS     = 0xFFFF
)

// Defaults
const (
	DefaultPort           = 9123
	DefaultReadBufferSize = 4096
)

// Header returns a copy of the frame magic.
func Header() []byte {
	return append([]byte(nil), header...)
}

// EndFrame returns a copy of the frame delimiter.
func EndFrame() []byte {
	return append([]byte(nil), endFrame...)
}
