package blockstream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"
)

// Sink receives decoded events in wire order.
type Sink interface {
	OnEvent(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) OnEvent(e Event) { f(e) }

// FeedResult summarizes one call to Decoder.Feed.
type FeedResult struct {
	Frames     int     // frames decoded successfully
	Events     int     // events handed to the sink
	Dropped    []error // one entry per discarded frame
	Mismatches int     // room id mismatches seen while decoding
}

// Decoder turns the byte stream of one presenter connection into events.
// It never blocks and never fails the connection: corrupt frames are
// dropped and decoding continues with the following bytes.
//
// A Decoder is not safe for concurrent use; the transport must serialize
// calls per connection.
type Decoder struct {
	frames       *FrameSynchronizer
	rooms        roomBinding
	maxFrameSize int
	logger       *slog.Logger
}

type DecoderOption func(*Decoder)

// WithLogger sets the logger used for dropped frames and room mismatches.
func WithLogger(logger *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// WithMaxFrameSize bounds how many bytes may be buffered without a
// delimiter before they are thrown away. Zero disables the limit.
func WithMaxFrameSize(size int) DecoderOption {
	return func(d *Decoder) {
		d.maxFrameSize = size
	}
}

// WithBufferSize sets the initial capacity of the accumulation buffer.
func WithBufferSize(size int) DecoderOption {
	return func(d *Decoder) {
		d.frames = NewFrameSynchronizer(size)
	}
}

func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		frames: NewFrameSynchronizer(DefaultReadBufferSize),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Write buffers bytes read from the connection.
func (d *Decoder) Write(p []byte) (int, error) {
	return d.frames.Write(p)
}

// Next decodes the next buffered frame. It returns ErrNoFrame when no
// complete frame is available. Any other error means one frame was
// discarded; the caller may keep calling Next.
func (d *Decoder) Next() ([]Event, error) {
	frame, ok := d.frames.Next()
	if !ok {
		if d.maxFrameSize > 0 && d.frames.Buffered() > d.maxFrameSize {
			n := d.frames.Buffered()
			d.frames.Reset()
			return nil, fmt.Errorf("%w: %d bytes without delimiter", ErrFrameTooLarge, n)
		}
		return nil, ErrNoFrame
	}
	return d.decodeFrame(frame)
}

// Feed buffers p and hands every event of every complete frame to sink.
func (d *Decoder) Feed(p []byte, sink Sink) FeedResult {
	var res FeedResult
	before := d.rooms.mismatches

	_, _ = d.Write(p)
	for {
		events, err := d.Next()
		if errors.Is(err, ErrNoFrame) {
			break
		}
		if err != nil {
			res.Dropped = append(res.Dropped, err)
			d.logDrop(err)
			continue
		}

		res.Frames++
		for _, e := range events {
			sink.OnEvent(e)
			res.Events++
		}
	}

	res.Mismatches = d.rooms.mismatches - before
	return res
}

// Room returns the room bound by the last CaptureStart, if any.
func (d *Decoder) Room() (string, bool) {
	return d.rooms.room, d.rooms.bound
}

// Mismatches returns how many decoded room ids differed from the bound room.
func (d *Decoder) Mismatches() int {
	return d.rooms.mismatches
}

// Buffered returns the number of bytes waiting for a frame delimiter.
func (d *Decoder) Buffered() int {
	return d.frames.Buffered()
}

func (d *Decoder) logDrop(err error) {
	switch {
	case errors.Is(err, ErrInvalidHeader), errors.Is(err, ErrInvalidLength):
		d.logger.Info("Discarding frame", "reason", DropReason(err), "err", err)
	default:
		d.logger.Warn("Failed to decode frame, discarding", "reason", DropReason(err), "err", err)
	}
}

func (d *Decoder) decodeFrame(frame []byte) ([]Event, error) {
	body, err := parseFrame(frame)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(body)
	tag, err := readUint8(r)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TAG_CAPTURE_START:
		return d.decodeCaptureStart(r)
	case TAG_CAPTURE_UPDATE:
		return d.decodeCaptureUpdate(r)
	case TAG_CAPTURE_END:
		return d.decodeCaptureEnd(r)
	case TAG_MOUSE_LOCATION:
		return d.decodeMouseLocation(r)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownEvent, tag)
	}
}

func (d *Decoder) decodeCaptureStart(r *bytes.Reader) ([]Event, error) {
	room, err := d.decodeRoom(r, EventCaptureStart)
	if err != nil {
		return nil, err
	}

	seq, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	blockDim, err := readDimension(r)
	if err != nil {
		return nil, fmt.Errorf("block dimension: %w", err)
	}
	screenDim, err := readDimension(r)
	if err != nil {
		return nil, fmt.Errorf("screen dimension: %w", err)
	}
	svc2, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	if err := swallowEndFrame(r); err != nil {
		return nil, err
	}

	d.rooms.bind(room)
	d.logger.Info("CaptureStart", "room", room, "seq", seq,
		"screen", fmt.Sprintf("%dx%d", screenDim.Width, screenDim.Height),
		"block", fmt.Sprintf("%dx%d", blockDim.Width, blockDim.Height))

	return []Event{CaptureStart{
		Room:      room,
		Sequence:  seq,
		ScreenDim: screenDim,
		BlockDim:  blockDim,
		SVC2:      svc2 == 1,
	}}, nil
}

func (d *Decoder) decodeCaptureUpdate(r *bytes.Reader) ([]Event, error) {
	room, err := d.decodeRoom(r, EventCaptureUpdate)
	if err != nil {
		return nil, err
	}

	seq, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	count, err := readUint16(r)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, count)
	for i := 0; i < int(count); i++ {
		block, err := readBlock(r)
		if err != nil {
			return nil, fmt.Errorf("block %d of %d: %w", i, count, err)
		}
		events = append(events, CaptureUpdate{
			Room:     room,
			Sequence: seq,
			Block:    block,
		})
	}

	if err := swallowEndFrame(r); err != nil {
		return nil, err
	}

	return events, nil
}

func (d *Decoder) decodeCaptureEnd(r *bytes.Reader) ([]Event, error) {
	room, err := d.decodeRoom(r, EventCaptureEnd)
	if err != nil {
		return nil, err
	}

	seq, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if err := swallowEndFrame(r); err != nil {
		return nil, err
	}

	d.logger.Info("CaptureEnd", "room", room, "seq", seq)
	return []Event{CaptureEnd{Room: room, Sequence: seq}}, nil
}

func (d *Decoder) decodeMouseLocation(r *bytes.Reader) ([]Event, error) {
	room, err := d.decodeRoom(r, EventMouseLocation)
	if err != nil {
		return nil, err
	}

	seq, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	x, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	y, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if err := swallowEndFrame(r); err != nil {
		return nil, err
	}

	return []Event{MouseLocation{
		Room:     room,
		Sequence: seq,
		X:        int32(x),
		Y:        int32(y),
	}}, nil
}

// decodeRoom reads the length-prefixed room id and cross-checks it against
// the room bound to the connection.
func (d *Decoder) decodeRoom(r *bytes.Reader, t EventType) (string, error) {
	n, err := readUint8(r)
	if err != nil {
		return "", fmt.Errorf("%s room length: %w", t, err)
	}
	b, err := readBytes(r, int(n))
	if err != nil {
		return "", fmt.Errorf("%s room: %w", t, err)
	}
	if len(b) == 0 {
		return "", fmt.Errorf("%w in %s", ErrEmptyRoom, t)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w in %s", ErrInvalidRoom, t)
	}

	room := string(b)
	d.rooms.check(d.logger, room)
	return room, nil
}

func readBlock(r *bytes.Reader) (Block, error) {
	index, err := readUint16(r)
	if err != nil {
		return Block{}, err
	}
	keyFrame, err := readUint8(r)
	if err != nil {
		return Block{}, err
	}
	length, err := readUint32(r)
	if err != nil {
		return Block{}, err
	}
	if uint64(length) > uint64(r.Len()) {
		return Block{}, fmt.Errorf("%w: block %d wants %d bytes, %d left", ErrShortFrame, index, length, r.Len())
	}
	data, err := readBytes(r, int(length))
	if err != nil {
		return Block{}, err
	}

	return Block{
		Index:    index,
		KeyFrame: keyFrame == 1,
		Data:     data,
	}, nil
}

func readDimension(r io.Reader) (Dimension, error) {
	width, err := readUint32(r)
	if err != nil {
		return Dimension{}, err
	}
	height, err := readUint32(r)
	if err != nil {
		return Dimension{}, err
	}
	return Dimension{Width: int32(width), Height: int32(height)}, nil
}

func swallowEndFrame(r io.Reader) error {
	var buf [END_FRAME_SIZE]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("%w: end frame: %w", ErrShortFrame, err)
	}
	return nil
}

func readUint8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrShortFrame, err)
	}
	return buf[0], nil
}

func readUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrShortFrame, err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrShortFrame, err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// readBytes copies n bytes out of r so the result does not alias the
// connection buffer.
func readBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShortFrame, err)
	}
	return buf, nil
}
