package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/pinion"
	"github.com/luciancaetano/pinion/internal/codec"
	"github.com/luciancaetano/pinion/internal/metrics"
	"github.com/luciancaetano/pinion/internal/protocol"
)

// unhandledRouteLabel is the metrics label for routes with no registered handler.
const unhandledRouteLabel = "unknown"

// Peer handshake progress.
const (
	peerAwaitingHandshake int32 = iota
	peerAwaitingAck
	peerReady
)

// peer is one client connection on the server. Its frame handler runs on the
// connection's read goroutine; route handlers run on their own goroutines.
type peer struct {
	*Conn
	srv         *Server
	rateLimiter *rate.Limiter
	stage       atomic.Int32
}

var (
	_ pinion.Peer         = (*peer)(nil)
	_ pinion.FrameHandler = (*peer)(nil)
)

func newPeer(s *Server, ws *websocket.Conn, remoteAddr string) *peer {
	return &peer{
		Conn: newConn(ws, remoteAddr, connOptions{
			ReadTimeout:  s.readTimeout,
			PingInterval: defaultPingInterval,
			Logger:       s.log,
		}),
		srv:         s,
		rateLimiter: s.rateLimitConfig.newLimiter(),
	}
}

// Push sends a push message to this peer
func (p *peer) Push(ctx context.Context, routeName string, body any) error {
	frame, err := p.srv.encodePush(routeName, body)
	if err != nil {
		return err
	}
	return p.Send(ctx, frame)
}

func (p *peer) ready() bool {
	return p.stage.Load() == peerReady
}

// checkRateLimit reports whether one more inbound frame is allowed
func (p *peer) checkRateLimit() bool {
	if p.rateLimiter == nil {
		return true
	}
	return p.rateLimiter.Allow()
}

func (p *peer) sendPacket(ctx context.Context, typ protocol.PacketType, body []byte) error {
	data, err := protocol.EncodePacket(typ, body)
	if err != nil {
		return err
	}
	return p.Send(ctx, data)
}

func (p *peer) OnFrame(frame []byte) {
	if !p.checkRateLimit() {
		p.log.Warn().Msg("rate limit exceeded")
		_ = p.Close(pinion.ClosePolicyViolation, pinion.ErrMsgRateLimited)
		return
	}

	packets, err := protocol.DecodePackets(frame)
	if err != nil {
		p.log.Warn().Err(err).Msg("invalid frame")
		metrics.RecordDecodeError("packet")
		_ = p.Close(pinion.CloseProtocolError, "invalid packet")
		return
	}

	for _, pkt := range packets {
		switch pkt.Type {
		case protocol.PacketHandshake:
			p.onHandshake(pkt.Body)
		case protocol.PacketHandshakeAck:
			p.onHandshakeAck()
		case protocol.PacketHeartbeat:
			p.onHeartbeat()
		case protocol.PacketData:
			p.onData(pkt.Body)
		default:
			p.log.Debug().Stringer("type", pkt.Type).Msg("ignoring packet")
		}
	}
}

func (p *peer) OnError(err error) {
	p.log.Debug().Err(err).Msg("connection error")
}

func (p *peer) OnClose(code int, _ string) {
	p.srv.removePeer(p, code)
}

func (p *peer) onHandshake(body []byte) {
	if p.stage.Load() != peerAwaitingHandshake {
		p.log.Debug().Msg("duplicate handshake ignored")
		return
	}

	var req protocol.HandshakeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		p.log.Warn().Err(err).Msg("malformed handshake")
		_ = p.Close(pinion.CloseProtocolError, pinion.ReasonBadHandshake)
		return
	}

	code, user := pinion.ResCodeOK, map[string]any(nil)
	if p.srv.onHandshake != nil {
		code, user = p.srv.onHandshake(p, req)
	}
	res := protocol.HandshakeResponse{Code: code, User: user}
	if code == pinion.ResCodeOK {
		res.Sys = p.srv.sys
		p.stage.Store(peerAwaitingAck)
	}
	metrics.RecordHandshake("server", code)

	raw, err := json.Marshal(res)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to encode handshake response")
		return
	}
	if err := p.sendPacket(p.Context(), protocol.PacketHandshake, raw); err != nil {
		p.log.Warn().Err(err).Msg("failed to send handshake response")
		return
	}
	p.log.Debug().
		Int("code", code).
		Str("client_type", req.Sys.Type).
		Str("client_version", req.Sys.Version).
		Msg("handshake answered")
}

func (p *peer) onHandshakeAck() {
	if !p.stage.CompareAndSwap(peerAwaitingAck, peerReady) {
		return
	}
	p.log.Debug().Msg("handshake acknowledged")
	p.onHeartbeat()
}

// onHeartbeat answers right away; the client paces the exchange.
func (p *peer) onHeartbeat() {
	if p.srv.heartbeat <= 0 || !p.ready() {
		return
	}
	if err := p.sendPacket(p.Context(), protocol.PacketHeartbeat, nil); err != nil {
		p.log.Debug().Err(err).Msg("failed to send heartbeat")
	}
}

func (p *peer) onData(body []byte) {
	if !p.ready() {
		p.log.Debug().Msg("data before handshake dropped")
		return
	}

	msg, err := protocol.DecodeMessage(body)
	if err != nil {
		p.log.Warn().Err(err).Msg("invalid message")
		metrics.RecordDecodeError("message")
		return
	}
	if msg.Type != protocol.MessageRequest && msg.Type != protocol.MessageNotify {
		p.log.Debug().Stringer("type", msg.Type).Msg("unexpected message type")
		return
	}

	routeName := msg.Route
	if msg.CompressRoute {
		r, ok := p.srv.dict.Route(msg.RouteCode)
		if !ok {
			p.log.Warn().Uint16("code", msg.RouteCode).Msg("unknown route code")
			metrics.RecordRoutingDrop("unknown_route_code")
			return
		}
		routeName = r
	}

	v, ok := p.srv.handlers.Load(routeName)
	if !ok {
		p.log.Debug().Str("route", routeName).Msg("no handler")
		p.reply(msg, routeName, unhandledRouteLabel, ErrorBody{Code: pinion.ResCodeFail, Message: pinion.ErrMsgRouteNotFound}, false)
		return
	}
	handler := v.(pinion.HandlerFunc)

	bc := p.srv.codecs.For(codec.Inbound, routeName)
	payload, err := bc.Decode(routeName, msg.Body)
	if err != nil {
		p.log.Warn().Err(err).Str("route", routeName).Msg("body decode failed")
		metrics.RecordDecodeError("body")
		p.reply(msg, routeName, routeName, ErrorBody{Code: pinion.ResCodeFail, Message: err.Error()}, false)
		return
	}

	// Execute handler in goroutine so a slow route does not stall the read loop
	go func() {
		result, err := handler(p, routeName, payload)
		if err != nil {
			p.log.Debug().Err(err).Str("route", routeName).Msg("handler failed")
			p.reply(msg, routeName, routeName, ErrorBody{Code: pinion.ResCodeFail, Message: err.Error()}, false)
			return
		}
		p.reply(msg, routeName, routeName, result, true)
	}()
}

// reply answers a request. Notifies get no response. label is the metrics route
// label; client-chosen names without a handler are never used as labels.
func (p *peer) reply(msg protocol.Message, routeName, label string, body any, ok bool) {
	metrics.RecordServerMessage(msg.Type.String(), label, ok)
	if msg.Type != protocol.MessageRequest {
		return
	}

	frame, err := p.srv.encodeMessage(protocol.Message{ID: msg.ID, Type: protocol.MessageResponse}, routeName, body)
	if err != nil {
		p.log.Error().Err(err).Str("route", routeName).Msg("failed to encode response")
		return
	}
	if err := p.Send(p.Context(), frame); err != nil {
		p.log.Debug().Err(err).Str("route", routeName).Msg("failed to send response")
	}
}
