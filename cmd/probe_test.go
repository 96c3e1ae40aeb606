package main

import (
	"bytes"
	"context"
	"testing"

	"deskshare/pkg/blockstream"
)

func TestRunProbe(t *testing.T) {
	var buf bytes.Buffer
	opts := probeOptions{room: "probe", width: 256, height: 128, block: 64, frames: 3, changed: 2}

	sent, err := runProbe(context.Background(), &buf, opts)
	if err != nil {
		t.Fatalf("runProbe: %v", err)
	}
	// start + keyframe screen + (update + mouse) per frame + end
	if sent != 2+2*3+1 {
		t.Fatalf("unexpected frame count %d", sent)
	}

	var events []blockstream.Event
	dec := blockstream.NewDecoder()
	res := dec.Feed(buf.Bytes(), blockstream.SinkFunc(func(e blockstream.Event) {
		events = append(events, e)
	}))
	if len(res.Dropped) != 0 || res.Frames != sent {
		t.Fatalf("unexpected feed result: %+v", res)
	}

	// 8 keyframe blocks, 2 blocks per delta frame.
	if want := 1 + 8 + 3*(2+1) + 1; len(events) != want {
		t.Fatalf("expected %d events, got %d", want, len(events))
	}
	if events[0].Type() != blockstream.EventCaptureStart || events[len(events)-1].Type() != blockstream.EventCaptureEnd {
		t.Fatalf("unexpected first/last events: %v %v", events[0].Type(), events[len(events)-1].Type())
	}
	for _, e := range events {
		if e.RoomID() != "probe" {
			t.Fatalf("unexpected room %q", e.RoomID())
		}
	}
	if last := events[len(events)-1].Seq(); last != uint32(sent) {
		t.Fatalf("expected last sequence %d, got %d", sent, last)
	}
}

func TestRunProbeRejectsEmptyGrid(t *testing.T) {
	var buf bytes.Buffer
	if _, err := runProbe(context.Background(), &buf, probeOptions{room: "r", width: 0, height: 10, block: 8}); err == nil {
		t.Fatal("expected error for empty grid")
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written, got %d bytes", buf.Len())
	}
}
