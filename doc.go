// Package pinion provides a client session engine for route-based application servers
// that speak a compact packet protocol over WebSocket, plus a reference server that
// speaks the same protocol.
//
// A Session opens one connection, negotiates it with a handshake and then exchanges
// request/response pairs, one-way notifies and server pushes addressed by route
// strings such as "room.join". Heartbeats detect dead connections, a negotiated route
// dictionary shortens route strings on the wire and negotiated schemas switch bodies
// from JSON text to a compact binary encoding.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/pinion"
//	    "github.com/luciancaetano/pinion/ws"
//	)
//
//	sess := ws.New(ws.NewConfig("localhost", 3010, map[string]any{"name": "alice"}, func(ev pinion.Event) {
//	    switch e := ev.(type) {
//	    case pinion.PushEvent:
//	        log.Printf("push %s: %v", e.Route, e.Body)
//	    case pinion.CloseEvent:
//	        log.Printf("closed: %d %s", e.Code, e.Text)
//	    }
//	}))
//
//	sess.Init(ctx, func() {
//	    body, err := sess.Call(ctx, "room.join", map[string]any{"roomId": 5})
//	    ...
//	})
//
// # Protocol Format
//
// Every WebSocket binary frame carries one or more packets:
//
//	[1 byte: type][3 bytes: body length (big-endian)][N bytes: body]
//
// Packet types are Handshake (1), HandshakeAck (2), Heartbeat (3), Data (4) and
// Kick (5). Maximum packet body: 16MB - 1.
//
// Data packets carry a message:
//
//	[1 byte: type<<1 | compressRoute][varint id][route][body]
//
// The id is present for requests and responses only. The route is absent from
// responses; otherwise it is either a 2-byte dictionary code (when compressRoute is
// set) or a 1-byte length followed by the UTF-8 route.
//
// # Handshake
//
// The client sends {"sys": {"type", "version"}, "user": {...}} as JSON. The server
// answers with a code: 200 accepts and carries the heartbeat interval in seconds, the
// route dictionary and the schema tables; 501 means the client is too old; anything
// else is a failure. The client acknowledges a successful handshake and only then
// becomes Established.
//
// # Heartbeat
//
// After the handshake the client sends a heartbeat one interval after each heartbeat
// it receives and expects traffic within twice the interval. Any inbound packet
// counts as traffic. When the deadline passes the session reports a heartbeat timeout
// and disconnects. An interval of 0 disables heartbeats.
//
// # Body Codecs
//
// Routes with a negotiated schema use the schema codec for that direction; all other
// routes use JSON. A body that cannot be decoded is delivered as raw bytes rather
// than dropped. Use Bind to map decoded bodies onto structs.
//
// # Concurrency
//
// All session work runs on one goroutine per session, one unit at a time. Callbacks
// and event handlers never run concurrently with each other, and every public method
// may be called from any goroutine.
//
// # Reference Server
//
// ws.NewServer provides a server for tests and local development:
//
//	srv, err := ws.NewServer(ws.NewServerConfig(":3010", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//	srv.Handle("room.join", func(peer pinion.Peer, route string, body any) (any, error) {
//	    return map[string]any{"code": 200}, nil
//	})
//	srv.Start(ctx)
//
// Each peer is rate limited with a token bucket; a peer over its limit is closed with
// code 1008 (Policy Violation).
//
// # Important
//
//   - Requests abandoned by a disconnect never invoke their callback; Call reports them as ErrSessionClosed
//   - Configure CheckOriginFn in production (never use ws.AllOrigins() in production)
//   - Server handlers execute in goroutines (no execution order guarantee)
package pinion
