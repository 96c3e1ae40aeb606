package blockstream

import "errors"

var (
	// ErrNoFrame means no complete frame is buffered yet. It is not a failure.
	ErrNoFrame = errors.New("no complete frame buffered")

	ErrInvalidHeader = errors.New("invalid frame header")
	ErrInvalidLength = errors.New("invalid frame length")
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
	ErrShortFrame    = errors.New("unexpected end of frame")
	ErrUnknownEvent  = errors.New("unknown event")
	ErrEmptyRoom     = errors.New("empty room id")
	ErrInvalidRoom   = errors.New("room id is not valid utf-8")
)

// DropReason maps a decode error to a short label for logs and metrics.
func DropReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidHeader):
		return "invalid_header"
	case errors.Is(err, ErrInvalidLength):
		return "invalid_length"
	case errors.Is(err, ErrFrameTooLarge):
		return "too_large"
	case errors.Is(err, ErrShortFrame):
		return "short_frame"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrEmptyRoom):
		return "empty_room"
	case errors.Is(err, ErrInvalidRoom):
		return "invalid_room"
	default:
		return "other"
	}
}
