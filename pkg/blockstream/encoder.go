package blockstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrRoomTooLong   = errors.New("room id longer than 255 bytes")
	ErrNoBlocks      = errors.New("capture update without blocks")
	ErrTooManyBlocks = errors.New("capture update with more than 65535 blocks")
)

// Encoder writes events in the block-stream wire format. It is the
// presenter side of the protocol and is used by the probe command and tests.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) WriteCaptureStart(ev CaptureStart) error {
	frame, err := AppendCaptureStart(nil, ev)
	if err != nil {
		return err
	}
	return e.write(frame)
}

func (e *Encoder) WriteCaptureUpdate(room string, seq uint32, blocks []Block) error {
	frame, err := AppendCaptureUpdate(nil, room, seq, blocks)
	if err != nil {
		return err
	}
	return e.write(frame)
}

func (e *Encoder) WriteCaptureEnd(ev CaptureEnd) error {
	frame, err := AppendCaptureEnd(nil, ev)
	if err != nil {
		return err
	}
	return e.write(frame)
}

func (e *Encoder) WriteMouseLocation(ev MouseLocation) error {
	frame, err := AppendMouseLocation(nil, ev)
	if err != nil {
		return err
	}
	return e.write(frame)
}

func (e *Encoder) write(frame []byte) error {
	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// AppendCaptureStart appends one CaptureStart frame to b.
func AppendCaptureStart(b []byte, ev CaptureStart) ([]byte, error) {
	b, mark, err := beginFrame(b, TAG_CAPTURE_START, ev.Room)
	if err != nil {
		return nil, err
	}
	b = binary.BigEndian.AppendUint32(b, ev.Sequence)
	b = binary.BigEndian.AppendUint32(b, uint32(ev.BlockDim.Width))
	b = binary.BigEndian.AppendUint32(b, uint32(ev.BlockDim.Height))
	b = binary.BigEndian.AppendUint32(b, uint32(ev.ScreenDim.Width))
	b = binary.BigEndian.AppendUint32(b, uint32(ev.ScreenDim.Height))
	b = append(b, boolToByte(ev.SVC2))
	return endFrameAt(b, mark), nil
}

// AppendCaptureUpdate appends one CaptureUpdate frame carrying every block.
func AppendCaptureUpdate(b []byte, room string, seq uint32, blocks []Block) ([]byte, error) {
	if len(blocks) == 0 {
		return nil, ErrNoBlocks
	}
	if len(blocks) > MAX_BLOCKS {
		return nil, ErrTooManyBlocks
	}

	b, mark, err := beginFrame(b, TAG_CAPTURE_UPDATE, room)
	if err != nil {
		return nil, err
	}
	b = binary.BigEndian.AppendUint32(b, seq)
	b = binary.BigEndian.AppendUint16(b, uint16(len(blocks)))
	for _, block := range blocks {
		b = binary.BigEndian.AppendUint16(b, block.Index)
		b = append(b, boolToByte(block.KeyFrame))
		b = binary.BigEndian.AppendUint32(b, uint32(len(block.Data)))
		b = append(b, block.Data...)
	}
	return endFrameAt(b, mark), nil
}

// AppendCaptureEnd appends one CaptureEnd frame to b.
func AppendCaptureEnd(b []byte, ev CaptureEnd) ([]byte, error) {
	b, mark, err := beginFrame(b, TAG_CAPTURE_END, ev.Room)
	if err != nil {
		return nil, err
	}
	b = binary.BigEndian.AppendUint32(b, ev.Sequence)
	return endFrameAt(b, mark), nil
}

// AppendMouseLocation appends one MouseLocation frame to b.
func AppendMouseLocation(b []byte, ev MouseLocation) ([]byte, error) {
	b, mark, err := beginFrame(b, TAG_MOUSE_LOCATION, ev.Room)
	if err != nil {
		return nil, err
	}
	b = binary.BigEndian.AppendUint32(b, ev.Sequence)
	b = binary.BigEndian.AppendUint32(b, uint32(ev.X))
	b = binary.BigEndian.AppendUint32(b, uint32(ev.Y))
	return endFrameAt(b, mark), nil
}

// beginFrame writes header, a placeholder length, the tag and the room. mark
// is the offset of the length field.
func beginFrame(b []byte, tag byte, room string) ([]byte, int, error) {
	if room == "" {
		return nil, 0, ErrEmptyRoom
	}
	if len(room) > MAX_ROOM_SIZE {
		return nil, 0, ErrRoomTooLong
	}

	b = append(b, header...)
	mark := len(b)
	b = append(b, 0, 0, 0, 0)
	b = append(b, tag, byte(len(room)))
	b = append(b, room...)
	return b, mark, nil
}

// endFrameAt fills in the payload length and appends the delimiter.
func endFrameAt(b []byte, mark int) []byte {
	length := len(b) - mark - LENGTH_SIZE
	binary.BigEndian.PutUint32(b[mark:mark+LENGTH_SIZE], uint32(length))
	return append(b, endFrame...)
}

func boolToByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
