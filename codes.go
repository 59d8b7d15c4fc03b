package pinion

import "errors"

// Handshake response codes.
const (
	ResCodeOK        = 200
	ResCodeFail      = 500
	ResCodeOldClient = 501
)

// Handshake identification sent in sys.type and sys.version.
const (
	ClientType    = "go-websocket"
	ClientVersion = "0.1.0"
)

// WebSocket close codes, RFC 6455 section 7.4.1.
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	CloseAbnormalClosure = 1006
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Reasons carried by ErrorEvent
const (
	ReasonOldClient     = "client version not fulfilled"
	ReasonHandshakeFail = "handshake fail"
	ReasonBadHandshake  = "handshake parse error"
)

// Standard error messages
const (
	ErrMsgMissingRoute   = "route is required"
	ErrMsgNotConnected   = "session is not connected"
	ErrMsgAlreadyStarted = "session already started"
	ErrMsgSessionClosed  = "session closed"
	ErrMsgUnknownCode    = "unknown route code"
	ErrMsgPeerNotFound   = "peer not found"
	ErrMsgConnClosed     = "connection is closed"
	ErrMsgServerRunning  = "server already running"
	ErrMsgFailedToEncode = "failed to encode message"
	ErrMsgNoDialer       = "no dialer configured"
	ErrMsgSendBufferFull = "send buffer full"
	ErrMsgRateLimited    = "rate limit exceeded"
	ErrMsgRouteNotFound  = "route not found"
)

var (
	ErrMissingRoute     = errors.New(ErrMsgMissingRoute)
	ErrNotConnected     = errors.New(ErrMsgNotConnected)
	ErrAlreadyStarted   = errors.New(ErrMsgAlreadyStarted)
	ErrSessionClosed    = errors.New(ErrMsgSessionClosed)
	ErrUnknownRouteCode = errors.New(ErrMsgUnknownCode)
	ErrPeerNotFound     = errors.New(ErrMsgPeerNotFound)
	ErrConnClosed       = errors.New(ErrMsgConnClosed)
	ErrServerRunning    = errors.New(ErrMsgServerRunning)
	ErrNoDialer         = errors.New(ErrMsgNoDialer)
	ErrSendBufferFull   = errors.New(ErrMsgSendBufferFull)

	ErrOldClient       = errors.New(ReasonOldClient)
	ErrHandshakeFailed = errors.New(ReasonHandshakeFail)
)
