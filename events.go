package pinion

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// EventKind enumerates everything a Session reports to the application.
type EventKind int

const (
	EventError EventKind = iota
	EventIOError
	EventClose
	EventHeartbeatTimeout
	EventKick
	EventPush
)

func (k EventKind) String() string {
	switch k {
	case EventError:
		return "error"
	case EventIOError:
		return "io-error"
	case EventClose:
		return "close"
	case EventHeartbeatTimeout:
		return "heartbeat timeout"
	case EventKick:
		return "onKick"
	case EventPush:
		return "push"
	default:
		return "unknown"
	}
}

// Event is one of ErrorEvent, IOErrorEvent, CloseEvent, HeartbeatTimeoutEvent,
// KickEvent or PushEvent. Switch on the concrete type or on Kind.
type Event interface {
	Kind() EventKind
}

// ErrorEvent reports a protocol failure, typically a rejected handshake.
type ErrorEvent struct {
	Reason string
	Err    error
}

// IOErrorEvent reports a transport failure.
type IOErrorEvent struct {
	Err error
}

// CloseEvent reports that the transport closed.
type CloseEvent struct {
	Code int
	Text string
}

// HeartbeatTimeoutEvent reports that the server stopped sending anything for longer
// than the negotiated heartbeat timeout. The session disconnects right after.
type HeartbeatTimeoutEvent struct{}

// KickEvent reports that the server kicked this client. Reason is the decoded kick
// body, or nil when the server sent none.
type KickEvent struct {
	Reason any
}

// PushEvent carries a server-initiated message.
type PushEvent struct {
	Route string
	Body  any
}

func (ErrorEvent) Kind() EventKind            { return EventError }
func (IOErrorEvent) Kind() EventKind          { return EventIOError }
func (CloseEvent) Kind() EventKind            { return EventClose }
func (HeartbeatTimeoutEvent) Kind() EventKind { return EventHeartbeatTimeout }
func (KickEvent) Kind() EventKind             { return EventKick }
func (PushEvent) Kind() EventKind             { return EventPush }
