package blockstream

// ConnectionOpened is sent when a presenter connects.
type ConnectionOpened struct {
	SessionId  string
	RemoteAddr string
}

// ConnectionClosed is sent when a presenter connection ends. Room is the
// room bound by the connection's last CaptureStart, empty if none was seen.
type ConnectionClosed struct {
	SessionId string
	Room      string
	Reason    string
}

// PresenterEvent carries a decoded event together with the session that
// produced it.
type PresenterEvent struct {
	SessionId string
	Event     Event
}
