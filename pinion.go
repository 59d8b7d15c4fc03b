package pinion

import (
	"context"
	"encoding/json"
)

// Session defines the client side of one logical connection to a route-based
// application server.
//
// All methods return immediately. Network I/O, handshake processing, heartbeat
// timers and response callbacks run on the session's own goroutine, one unit of
// work at a time, so callbacks and event handlers never run in parallel with each
// other.
//
// Example usage:
//
//	import "github.com/luciancaetano/pinion/ws"
//
//	sess := ws.New(ws.NewConfig("localhost", 3010, nil, func(ev pinion.Event) {
//	    if push, ok := ev.(pinion.PushEvent); ok {
//	        log.Printf("push %s: %v", push.Route, push.Body)
//	    }
//	}))
//
//	sess.Init(ctx, func() {
//	    sess.Request("room.join", map[string]any{"roomId": 5}, func(err error, body any) {
//	        log.Printf("joined: %v", body)
//	    })
//	})
type Session interface {
	// ID returns a unique identifier for this session, used in logs.
	ID() string

	// Init opens the transport and starts the handshake.
	//
	// cb is invoked exactly once, on the session goroutine, after the server accepted
	// the handshake. It is never invoked when the handshake fails; failures are
	// reported through ErrorEvent and IOErrorEvent instead.
	//
	// Returns ErrAlreadyStarted if the session is not Disconnected.
	Init(ctx context.Context, cb InitFunc) error

	// Request sends a request message and registers cb for the correlated response.
	//
	// If route is empty and payload is a map carrying a string "route" entry, that
	// entry is used. If no route can be found ErrMissingRoute is returned and nothing
	// is sent.
	//
	// cb is invoked at most once, never synchronously inside Request. When the session
	// disconnects before the response arrives the request is abandoned and cb is not
	// invoked; use Call to observe that outcome as ErrSessionClosed.
	Request(route string, payload any, cb ResponseFunc) error

	// Call is the blocking form of Request.
	//
	// It returns the decoded response body, ctx.Err() when ctx is done first, or
	// ErrSessionClosed when the session disconnects while the request is pending.
	Call(ctx context.Context, route string, payload any) (any, error)

	// Notify sends a one-way message. No id is allocated and no response is expected.
	Notify(route string, payload any) error

	// Disconnect closes the transport, cancels heartbeat timers and abandons pending
	// requests. It is safe to call from any state and more than once.
	Disconnect()

	// State returns the current connection state.
	State() State

	// Done is closed every time the session returns to Disconnected after Init.
	// A fresh channel is created by the next Init.
	Done() <-chan struct{}
}

// InitFunc is invoked once the handshake succeeded.
type InitFunc func()

// ResponseFunc receives the decoded body of a response.
//
// err is non-nil only when the request could not be encoded or handed to the
// transport; in that case body is nil and no response will follow.
type ResponseFunc func(err error, body any)

// HandshakeFunc receives the user data the server attached to its handshake response.
type HandshakeFunc func(user map[string]any)

// EventHandler consumes session events. It runs on the session goroutine.
type EventHandler func(ev Event)

// Transport is one open, message-oriented connection.
//
// Implementations must be safe for concurrent use; Send and Close may be called from
// any goroutine.
type Transport interface {
	// Send queues one binary frame for delivery.
	Send(ctx context.Context, frame []byte) error

	// Close closes the connection with a close code and optional reason.
	Close(code int, reason string) error
}

// FrameHandler receives everything a Transport observes on the wire.
type FrameHandler interface {
	// OnFrame is called for each inbound binary frame, in arrival order.
	OnFrame(frame []byte)

	// OnError is called when the connection fails at the socket level.
	OnError(err error)

	// OnClose is called exactly once when the connection is gone.
	OnClose(code int, text string)
}

// Dialer opens transports.
type Dialer interface {
	// Dial connects to url and starts delivering frames to h.
	Dial(ctx context.Context, url string, h FrameHandler) (Transport, error)
}

// Server defines the reference server that speaks the same protocol.
//
// It is intended for tests, demos and local development.
//
// Example usage:
//
//	srv, err := ws.NewServer(ws.NewServerConfig(":3010", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//	srv.Handle("room.join", func(peer pinion.Peer, route string, body any) (any, error) {
//	    return map[string]any{"code": 200}, nil
//	})
//	srv.Start(ctx)
type Server interface {
	// Start starts listening. It returns once the listener is up or failed.
	Start(ctx context.Context) error

	// Stop closes all peers and shuts the listener down.
	Stop(ctx context.Context) error

	// Handle registers the handler for route. Requests get the returned value as
	// their response body; notifies discard it.
	Handle(route string, handler HandlerFunc)

	// Push sends a push message to one peer.
	Push(ctx context.Context, peerID string, route string, body any) error

	// Broadcast sends a push message to every peer that completed the handshake.
	Broadcast(ctx context.Context, route string, body any) error

	// Kick sends a kick packet to one peer and closes its connection.
	Kick(ctx context.Context, peerID string, reason string) error
}

// HandlerFunc handles one inbound request or notify on the reference server.
type HandlerFunc func(peer Peer, route string, body any) (any, error)

// Peer represents a client connected to the reference server.
type Peer interface {
	// ID returns a unique identifier for the connected peer.
	ID() string

	// RemoteAddr returns the peer's remote network address.
	RemoteAddr() string

	// Context is cancelled when the connection closes.
	Context() context.Context

	// Push sends a push message to this peer.
	Push(ctx context.Context, route string, body any) error

	// IsAlive returns true if the connection is still open.
	IsAlive() bool
}

// Bind converts a decoded body into out.
//
// Decoded bodies are plain maps and slices regardless of whether they came from the
// JSON or the schema codec; Bind maps them onto a struct through their JSON form.
func Bind(body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
