package blockstream

import "bytes"

// FrameSynchronizer accumulates bytes from a connection and slices out
// complete delimiter-terminated frames. Reads may split a frame anywhere or
// carry several frames at once; Next only returns a frame once its
// delimiter has been buffered.
//
// A FrameSynchronizer is owned by one connection and is not safe for
// concurrent use.
type FrameSynchronizer struct {
	buf  []byte
	pos  int // start of the next frame
	scan int // bytes before this offset are known to hold no delimiter start
}

func NewFrameSynchronizer(size int) *FrameSynchronizer {
	if size <= 0 {
		size = DefaultReadBufferSize
	}
	return &FrameSynchronizer{
		buf: make([]byte, 0, size),
	}
}

// Write appends p to the buffer. Frames returned by earlier calls to Next
// must not be used after Write.
func (fs *FrameSynchronizer) Write(p []byte) (int, error) {
	fs.compact()
	fs.buf = append(fs.buf, p...)
	return len(p), nil
}

// Next returns the next complete frame, header through delimiter inclusive.
// ok is false when no delimiter has arrived yet; the buffered bytes stay in
// place for the next call.
func (fs *FrameSynchronizer) Next() (frame []byte, ok bool) {
	from := fs.scan
	if from < fs.pos {
		from = fs.pos
	}

	i := bytes.Index(fs.buf[from:], endFrame)
	if i < 0 {
		// A delimiter may still straddle the tail of the buffer.
		tail := len(fs.buf) - (END_FRAME_SIZE - 1)
		if tail > fs.scan {
			fs.scan = tail
		}
		return nil, false
	}

	end := from + i + END_FRAME_SIZE
	frame = fs.buf[fs.pos:end]
	fs.pos = end
	fs.scan = end
	return frame, true
}

// Buffered returns the number of bytes waiting for a delimiter.
func (fs *FrameSynchronizer) Buffered() int {
	return len(fs.buf) - fs.pos
}

// Reset drops everything buffered.
func (fs *FrameSynchronizer) Reset() {
	fs.buf = fs.buf[:0]
	fs.pos = 0
	fs.scan = 0
}

func (fs *FrameSynchronizer) compact() {
	if fs.pos == 0 {
		return
	}
	n := copy(fs.buf, fs.buf[fs.pos:])
	fs.buf = fs.buf[:n]
	fs.scan -= fs.pos
	if fs.scan < 0 {
		fs.scan = 0
	}
	fs.pos = 0
}
