package blockstream

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// parseFrame checks the magic header and the declared payload length of a
// frame and returns the bytes after the length field: the payload followed
// by the end delimiter.
func parseFrame(frame []byte) ([]byte, error) {
	if len(frame) < HEADER_SIZE+LENGTH_SIZE {
		return nil, fmt.Errorf("%w: frame is %d bytes", ErrShortFrame, len(frame))
	}

	if !bytes.Equal(frame[:HEADER_SIZE], header) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, frame[:HEADER_SIZE])
	}

	length := binary.BigEndian.Uint32(frame[HEADER_SIZE : HEADER_SIZE+LENGTH_SIZE])
	body := frame[HEADER_SIZE+LENGTH_SIZE:]
	if uint64(len(body)) < uint64(length) {
		return nil, fmt.Errorf("%w: %d < %d", ErrInvalidLength, len(body), length)
	}

	return body, nil
}
