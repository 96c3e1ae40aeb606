package viewer

import (
	"encoding/json"

	"deskshare/pkg/blockstream"
)

// Size is a width and height in pixels.
type Size struct {
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

// Message is the JSON form of a block-stream event sent to viewers. Block
// payloads are base64 encoded by encoding/json.
type Message struct {
	Type     string  `json:"type"`
	Room     string  `json:"room"`
	Sequence uint32  `json:"seq"`
	Screen   *Size   `json:"screen,omitempty"`
	Tile     *Size   `json:"tile,omitempty"`
	SVC2     bool    `json:"svc2,omitempty"`
	Index    *uint16 `json:"index,omitempty"`
	KeyFrame bool    `json:"keyframe,omitempty"`
	Data     []byte  `json:"data,omitempty"`
	X        *int32  `json:"x,omitempty"`
	Y        *int32  `json:"y,omitempty"`
}

// NewMessage converts a decoded event into its viewer form.
func NewMessage(e blockstream.Event) Message {
	msg := Message{
		Type:     e.Type().String(),
		Room:     e.RoomID(),
		Sequence: e.Seq(),
	}

	switch v := e.(type) {
	case blockstream.CaptureStart:
		msg.Screen = &Size{Width: v.ScreenDim.Width, Height: v.ScreenDim.Height}
		msg.Tile = &Size{Width: v.BlockDim.Width, Height: v.BlockDim.Height}
		msg.SVC2 = v.SVC2
	case blockstream.CaptureUpdate:
		index := v.Block.Index
		msg.Index = &index
		msg.KeyFrame = v.Block.KeyFrame
		msg.Data = v.Block.Data
	case blockstream.MouseLocation:
		x, y := v.X, v.Y
		msg.X = &x
		msg.Y = &y
	}
	return msg
}

func encodeEvent(e blockstream.Event) ([]byte, error) {
	return json.Marshal(NewMessage(e))
}
