package blockstream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) OnEvent(e Event) {
	r.events = append(r.events, e)
}

// rawFrame wraps payload (tag plus fields) in header, length and delimiter.
func rawFrame(payload []byte) []byte {
	b := append([]byte(nil), header...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(payload)))
	b = append(b, payload...)
	return append(b, endFrame...)
}

func roomField(room string) []byte {
	return append([]byte{byte(len(room))}, room...)
}

func must(b []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return b
}

func sessionStream(t *testing.T) []byte {
	t.Helper()
	payload := []byte("seventeen bytes!!")

	var stream []byte
	stream = append(stream, must(AppendCaptureStart(nil, CaptureStart{
		Room:      "85115",
		Sequence:  1,
		BlockDim:  Dimension{Width: 32, Height: 32},
		ScreenDim: Dimension{Width: 800, Height: 600},
	}))...)
	stream = append(stream, must(AppendCaptureUpdate(nil, "85115", 2, []Block{
		{Index: 0, KeyFrame: true, Data: payload},
	}))...)
	stream = append(stream, must(AppendCaptureEnd(nil, CaptureEnd{Room: "85115", Sequence: 3}))...)
	return stream
}

func TestDecodeCaptureSession(t *testing.T) {
	rec := &eventRecorder{}
	res := NewDecoder().Feed(sessionStream(t), rec)

	if res.Frames != 3 || res.Events != 3 || len(res.Dropped) != 0 {
		t.Fatalf("unexpected feed result: %+v", res)
	}

	start, ok := rec.events[0].(CaptureStart)
	if !ok {
		t.Fatalf("expected CaptureStart, got %T", rec.events[0])
	}
	if start.Sequence != 1 || start.BlockDim != (Dimension{32, 32}) || start.ScreenDim != (Dimension{800, 600}) || start.SVC2 {
		t.Errorf("unexpected capture start: %+v", start)
	}

	update, ok := rec.events[1].(CaptureUpdate)
	if !ok {
		t.Fatalf("expected CaptureUpdate, got %T", rec.events[1])
	}
	if update.Sequence != 2 || update.Block.Index != 0 || !update.Block.KeyFrame || len(update.Block.Data) != 17 {
		t.Errorf("unexpected capture update: %+v", update)
	}

	end, ok := rec.events[2].(CaptureEnd)
	if !ok {
		t.Fatalf("expected CaptureEnd, got %T", rec.events[2])
	}
	if end.Sequence != 3 {
		t.Errorf("expected sequence 3, got %d", end.Sequence)
	}

	for i, e := range rec.events {
		if e.RoomID() != "85115" {
			t.Errorf("event %d: expected room 85115, got %q", i, e.RoomID())
		}
	}
}

func mixedStream(t *testing.T) []byte {
	t.Helper()
	var stream []byte
	stream = append(stream, sessionStream(t)...)
	stream = append(stream, must(AppendCaptureStart(nil, CaptureStart{
		Room:      "room-2",
		Sequence:  100,
		BlockDim:  Dimension{64, 64},
		ScreenDim: Dimension{1920, 1080},
		SVC2:      true,
	}))...)
	stream = append(stream, must(AppendMouseLocation(nil, MouseLocation{Room: "room-2", Sequence: 101, X: -5, Y: 700}))...)
	stream = append(stream, rawFrame([]byte{9, 1, 'x'})...) // unknown tag
	stream = append(stream, must(AppendCaptureUpdate(nil, "room-2", 102, []Block{
		{Index: 12, KeyFrame: false, Data: bytes.Repeat([]byte{0xAB}, 300)},
		{Index: 3, KeyFrame: true, Data: []byte{}},
		{Index: 479, KeyFrame: true, Data: []byte("DS-EN!")},
	}))...)
	stream = append(stream, must(AppendCaptureEnd(nil, CaptureEnd{Room: "room-2", Sequence: 103}))...)
	return stream
}

func decodeChunked(stream []byte, sizes func() int) []Event {
	d := NewDecoder()
	rec := &eventRecorder{}
	for len(stream) > 0 {
		n := sizes()
		if n > len(stream) {
			n = len(stream)
		}
		d.Feed(stream[:n], rec)
		stream = stream[n:]
	}
	return rec.events
}

func TestFragmentationTransparency(t *testing.T) {
	stream := mixedStream(t)

	whole := &eventRecorder{}
	NewDecoder().Feed(stream, whole)
	if len(whole.events) != 9 {
		t.Fatalf("expected 9 events from whole stream, got %d", len(whole.events))
	}

	for _, size := range []int{1, 2, 3, 5, 6, 7, 11, 64, 1000} {
		got := decodeChunked(stream, func() int { return size })
		if !reflect.DeepEqual(got, whole.events) {
			t.Errorf("chunk size %d: events differ from whole-stream decode", size)
		}
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		got := decodeChunked(stream, func() int { return rng.Intn(40) + 1 })
		if !reflect.DeepEqual(got, whole.events) {
			t.Fatalf("random split %d: events differ from whole-stream decode", i)
		}
	}
}

func TestDeclaredLengthTooLargeIsDropped(t *testing.T) {
	bad := append([]byte(nil), header...)
	bad = binary.BigEndian.AppendUint32(bad, 1000)
	bad = append(bad, TAG_CAPTURE_END)
	bad = append(bad, roomField("85115")...)
	bad = append(bad, endFrame...)

	good := must(AppendCaptureEnd(nil, CaptureEnd{Room: "85115", Sequence: 9}))

	rec := &eventRecorder{}
	res := NewDecoder().Feed(append(bad, good...), rec)

	if len(res.Dropped) != 1 || !errors.Is(res.Dropped[0], ErrInvalidLength) {
		t.Fatalf("expected one ErrInvalidLength drop, got %v", res.Dropped)
	}
	if len(rec.events) != 1 || rec.events[0].Seq() != 9 {
		t.Fatalf("expected the following frame to decode, got %+v", rec.events)
	}
}

func TestCorruptedHeaderIsSkipped(t *testing.T) {
	bad := must(AppendMouseLocation(nil, MouseLocation{Room: "r", Sequence: 1, X: 1, Y: 1}))
	bad[0] = 'X'
	good := must(AppendMouseLocation(nil, MouseLocation{Room: "r", Sequence: 2, X: 3, Y: 4}))

	rec := &eventRecorder{}
	res := NewDecoder().Feed(append(bad, good...), rec)

	if len(res.Dropped) != 1 || !errors.Is(res.Dropped[0], ErrInvalidHeader) {
		t.Fatalf("expected one ErrInvalidHeader drop, got %v", res.Dropped)
	}
	want := MouseLocation{Room: "r", Sequence: 2, X: 3, Y: 4}
	if len(rec.events) != 1 || rec.events[0] != Event(want) {
		t.Fatalf("expected %+v, got %+v", want, rec.events)
	}
}

func TestCaptureUpdateEmitsBlocksInWireOrder(t *testing.T) {
	indices := []uint16{7, 2, 9, 0, 2}
	blocks := make([]Block, len(indices))
	for i, idx := range indices {
		blocks[i] = Block{Index: idx, KeyFrame: i%2 == 0, Data: []byte{byte(i), byte(idx)}}
	}

	rec := &eventRecorder{}
	NewDecoder().Feed(must(AppendCaptureUpdate(nil, "85115", 42, blocks)), rec)

	if len(rec.events) != len(blocks) {
		t.Fatalf("expected %d events, got %d", len(blocks), len(rec.events))
	}
	for i, e := range rec.events {
		update := e.(CaptureUpdate)
		if update.Room != "85115" || update.Sequence != 42 {
			t.Errorf("block %d: expected room 85115 seq 42, got %q %d", i, update.Room, update.Sequence)
		}
		if !reflect.DeepEqual(update.Block, blocks[i]) {
			t.Errorf("block %d: expected %+v, got %+v", i, blocks[i], update.Block)
		}
	}
}

func TestRoomMismatchIsForwarded(t *testing.T) {
	d := NewDecoder()
	rec := &eventRecorder{}

	d.Feed(must(AppendCaptureStart(nil, CaptureStart{Room: "A", Sequence: 1, BlockDim: Dimension{16, 16}, ScreenDim: Dimension{64, 64}})), rec)
	res := d.Feed(must(AppendMouseLocation(nil, MouseLocation{Room: "B", Sequence: 2, X: 10, Y: 20})), rec)

	if res.Mismatches != 1 || d.Mismatches() != 1 {
		t.Fatalf("expected one mismatch, got %d (total %d)", res.Mismatches, d.Mismatches())
	}
	if len(rec.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(rec.events))
	}
	if want := (MouseLocation{Room: "B", Sequence: 2, X: 10, Y: 20}); rec.events[1] != Event(want) {
		t.Errorf("expected %+v, got %+v", want, rec.events[1])
	}
	if room, ok := d.Room(); !ok || room != "A" {
		t.Errorf("expected bound room A, got %q", room)
	}

	// A new CaptureStart rebinds the connection.
	d.Feed(must(AppendCaptureStart(nil, CaptureStart{Room: "B", Sequence: 3})), rec)
	d.Feed(must(AppendCaptureEnd(nil, CaptureEnd{Room: "B", Sequence: 4})), rec)
	if room, _ := d.Room(); room != "B" {
		t.Errorf("expected bound room B, got %q", room)
	}
	if d.Mismatches() != 2 {
		t.Errorf("expected 2 mismatches, got %d", d.Mismatches())
	}
}

func TestEmptyRoomIsDropped(t *testing.T) {
	seq := []byte{0, 0, 0, 1}
	frames := [][]byte{
		rawFrame(append(append([]byte{TAG_CAPTURE_START, 0}, seq...), make([]byte, 17)...)),
		rawFrame(append(append([]byte{TAG_CAPTURE_UPDATE, 0}, seq...), 0, 0)),
		rawFrame(append([]byte{TAG_CAPTURE_END, 0}, seq...)),
		rawFrame(append(append([]byte{TAG_MOUSE_LOCATION, 0}, seq...), make([]byte, 8)...)),
	}

	for i, frame := range frames {
		good := must(AppendCaptureEnd(nil, CaptureEnd{Room: "ok", Sequence: 5}))
		d := NewDecoder()
		rec := &eventRecorder{}
		res := d.Feed(append(frame, good...), rec)

		if len(res.Dropped) != 1 || !errors.Is(res.Dropped[0], ErrEmptyRoom) {
			t.Errorf("frame %d: expected ErrEmptyRoom, got %v", i, res.Dropped)
		}
		if len(rec.events) != 1 || rec.events[0].RoomID() != "ok" {
			t.Errorf("frame %d: expected following frame to decode, got %+v", i, rec.events)
		}
		if _, bound := d.Room(); bound {
			t.Errorf("frame %d: empty room must not bind the connection", i)
		}
	}
}

func TestInvalidUTF8RoomIsDropped(t *testing.T) {
	frame := rawFrame(append([]byte{TAG_CAPTURE_END, 2, 0xff, 0xfe}, 0, 0, 0, 1))

	d := NewDecoder()
	d.Write(frame)
	_, err := d.Next()
	if !errors.Is(err, ErrInvalidRoom) {
		t.Fatalf("expected ErrInvalidRoom, got %v", err)
	}
}

func TestUnknownEventIsDropped(t *testing.T) {
	d := NewDecoder()
	d.Write(rawFrame([]byte{7, 1, 'r', 0, 0, 0, 1}))

	_, err := d.Next()
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if _, err := d.Next(); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("expected ErrNoFrame, got %v", err)
	}
}

func TestTruncatedUpdateEmitsNothing(t *testing.T) {
	// Two blocks announced, the second one claims more bytes than remain.
	payload := []byte{TAG_CAPTURE_UPDATE}
	payload = append(payload, roomField("85115")...)
	payload = append(payload, 0, 0, 0, 8, 0, 2)
	payload = append(payload, 0, 1, 1, 0, 0, 0, 2, 'o', 'k')
	payload = append(payload, 0, 2, 1, 0, 0, 0, 50, 'x')

	rec := &eventRecorder{}
	res := NewDecoder().Feed(rawFrame(payload), rec)

	if len(res.Dropped) != 1 || !errors.Is(res.Dropped[0], ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", res.Dropped)
	}
	if len(rec.events) != 0 {
		t.Fatalf("expected no events from a failed frame, got %d", len(rec.events))
	}
}

func TestShortFrameIsDropped(t *testing.T) {
	rec := &eventRecorder{}
	res := NewDecoder().Feed(append([]byte("BBB"), endFrame...), rec)
	if len(res.Dropped) != 1 || !errors.Is(res.Dropped[0], ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", res.Dropped)
	}
}

func TestDelimiterInsidePayloadDropsFrame(t *testing.T) {
	update := must(AppendCaptureUpdate(nil, "85115", 1, []Block{
		{Index: 0, KeyFrame: true, Data: []byte("before DS-END after, long enough")},
	}))
	good := must(AppendCaptureEnd(nil, CaptureEnd{Room: "85115", Sequence: 2}))

	rec := &eventRecorder{}
	res := NewDecoder().Feed(append(update, good...), rec)

	if len(res.Dropped) != 2 {
		t.Fatalf("expected the update to be dropped as two frames, got %v", res.Dropped)
	}
	if len(rec.events) != 1 || rec.events[0].Type() != EventCaptureEnd {
		t.Fatalf("expected CaptureEnd to survive, got %+v", rec.events)
	}
}

func TestNextWaitsForDelimiter(t *testing.T) {
	frame := must(AppendCaptureEnd(nil, CaptureEnd{Room: "85115", Sequence: 1}))
	d := NewDecoder()

	d.Write(frame[:len(frame)-1])
	if _, err := d.Next(); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("expected ErrNoFrame, got %v", err)
	}
	if d.Buffered() != len(frame)-1 {
		t.Fatalf("expected %d buffered bytes, got %d", len(frame)-1, d.Buffered())
	}

	d.Write(frame[len(frame)-1:])
	events, err := d.Next()
	if err != nil {
		t.Fatalf("expected no error but got: %v", err)
	}
	if len(events) != 1 || events[0].Seq() != 1 {
		t.Fatalf("unexpected events: %+v", events)
	}
	if d.Buffered() != 0 {
		t.Errorf("expected empty buffer, got %d bytes", d.Buffered())
	}
}

func TestMaxFrameSize(t *testing.T) {
	d := NewDecoder(WithMaxFrameSize(16))
	d.Write(bytes.Repeat([]byte{'z'}, 32))

	if _, err := d.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if d.Buffered() != 0 {
		t.Fatalf("expected buffer to be reset, got %d bytes", d.Buffered())
	}

	d.Write(must(AppendCaptureEnd(nil, CaptureEnd{Room: "r", Sequence: 1})))
	if _, err := d.Next(); err != nil {
		t.Fatalf("expected decoder to recover, got %v", err)
	}
}

func TestBlockDataDoesNotAliasBuffer(t *testing.T) {
	frame := must(AppendCaptureUpdate(nil, "r", 1, []Block{{Index: 1, Data: []byte("payload")}}))
	d := NewDecoder()
	rec := &eventRecorder{}
	d.Feed(frame, rec)

	// Reusing the read buffer and refilling the decoder must not change
	// events already handed out.
	for i := range frame {
		frame[i] = 0
	}
	d.Feed(must(AppendCaptureUpdate(nil, "r", 2, []Block{{Index: 2, Data: []byte("PAYLOAD")}})), rec)

	if got := string(rec.events[0].(CaptureUpdate).Block.Data); got != "payload" {
		t.Fatalf("expected payload to be copied, got %q", got)
	}
}

func TestEventTypeString(t *testing.T) {
	cases := map[EventType]string{
		EventCaptureStart:  "capture_start",
		EventCaptureUpdate: "capture_update",
		EventCaptureEnd:    "capture_end",
		EventMouseLocation: "mouse_location",
		EventType(9):       "unknown(9)",
	}
	for typ, want := range cases {
		if typ.String() != want {
			t.Errorf("expected %s, got %s", want, typ.String())
		}
	}
}

func TestDropReason(t *testing.T) {
	if got := DropReason(errors.New("x")); got != "other" {
		t.Errorf("expected other, got %s", got)
	}
	if got := DropReason(ErrEmptyRoom); got != "empty_room" {
		t.Errorf("expected empty_room, got %s", got)
	}
}
