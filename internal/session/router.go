package session

import (
	"encoding/json"
	"fmt"

	"github.com/luciancaetano/pinion"
	"github.com/luciancaetano/pinion/internal/codec"
	"github.com/luciancaetano/pinion/internal/metrics"
	"github.com/luciancaetano/pinion/internal/protocol"
)

// resolveRoute falls back to payload["route"] when routeName is empty.
func resolveRoute(routeName string, payload any) string {
	if routeName != "" {
		return routeName
	}
	if m, ok := payload.(map[string]any); ok {
		if r, ok := m["route"].(string); ok {
			return r
		}
	}
	return ""
}

func (s *Session) request(routeName string, payload any, cb pinion.ResponseFunc) {
	c := s.conn
	if c == nil || s.State() != pinion.StateEstablished {
		respond(cb, pinion.ErrNotConnected)
		return
	}

	s.nextID++
	id := s.nextID

	data, bc, compressed, err := encodeOutbound(c, protocol.Message{
		ID:    id,
		Type:  protocol.MessageRequest,
		Route: routeName,
	}, payload)
	if err != nil {
		s.log.Warn().Err(err).Str("route", routeName).Uint64("id", id).Msg("failed to encode request")
		respond(cb, err)
		return
	}

	c.pending.add(pendingRequest{ID: id, Route: routeName, Codec: bc, cb: cb})
	if err := s.sendPacket(c, protocol.PacketData, data); err != nil {
		c.pending.remove(id)
		s.log.Warn().Err(err).Str("route", routeName).Uint64("id", id).Msg("failed to send request")
		respond(cb, err)
		return
	}
	metrics.RecordRequest(bc, compressed)
	s.log.Debug().Str("route", routeName).Uint64("id", id).Str("codec", bc).Msg("request sent")
}

func (s *Session) notify(routeName string, payload any) {
	c := s.conn
	if c == nil || s.State() != pinion.StateEstablished {
		s.log.Warn().Str("route", routeName).Msg("notify dropped, not connected")
		return
	}

	data, bc, compressed, err := encodeOutbound(c, protocol.Message{
		Type:  protocol.MessageNotify,
		Route: routeName,
	}, payload)
	if err != nil {
		s.log.Warn().Err(err).Str("route", routeName).Msg("failed to encode notify")
		s.emit(pinion.ErrorEvent{Reason: pinion.ErrMsgFailedToEncode, Err: err})
		return
	}
	if err := s.sendPacket(c, protocol.PacketData, data); err != nil {
		s.log.Warn().Err(err).Str("route", routeName).Msg("failed to send notify")
		s.emit(pinion.IOErrorEvent{Err: err})
		return
	}
	metrics.RecordNotify(bc, compressed)
}

func respond(cb pinion.ResponseFunc, err error) {
	if cb != nil {
		cb(err, nil)
	}
}

// encodeOutbound encodes payload with the codec selected for the route and compresses
// the route when the dictionary knows it.
func encodeOutbound(c *conn, msg protocol.Message, payload any) ([]byte, string, bool, error) {
	bc := c.codecs.For(codec.Outbound, msg.Route)
	body, err := bc.Encode(msg.Route, payload)
	if err != nil {
		return nil, bc.Name(), false, fmt.Errorf("%s: %w", pinion.ErrMsgFailedToEncode, err)
	}
	msg.Body = body

	if code, ok := c.dict.Code(msg.Route); ok {
		msg.CompressRoute = true
		msg.RouteCode = code
	}
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return nil, bc.Name(), false, err
	}
	return data, bc.Name(), msg.CompressRoute, nil
}

func (s *Session) onFrame(c *conn, frame []byte) {
	if c != s.conn {
		return
	}
	packets, err := protocol.DecodePackets(frame)
	if err != nil {
		s.log.Warn().Err(err).Int("len", len(frame)).Msg("dropping malformed frame")
		metrics.RecordDecodeError("packet")
	}

	for _, p := range packets {
		// A handler may have torn the connection down mid-frame.
		if c != s.conn {
			return
		}
		c.hb.Touch()

		switch p.Type {
		case protocol.PacketHandshake:
			s.onHandshake(c, p.Body)
		case protocol.PacketHeartbeat:
			c.hb.OnHeartbeat()
		case protocol.PacketData:
			s.onData(c, p.Body)
		case protocol.PacketKick:
			s.onKick(p.Body)
		default:
			s.log.Debug().Stringer("type", p.Type).Msg("ignoring packet")
		}
	}
}

func (s *Session) onKick(body []byte) {
	var reason any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &reason); err != nil {
			reason = string(body)
		}
	}
	s.log.Warn().Interface("reason", reason).Msg("kicked by server")
	s.emit(pinion.KickEvent{Reason: reason})
}

func (s *Session) onData(c *conn, data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed message")
		metrics.RecordDecodeError("message")
		return
	}

	routeName, ok := s.inboundRoute(c, msg)
	if !ok {
		return
	}

	bc := c.codecs.For(codec.Inbound, routeName)
	body, err := bc.Decode(routeName, msg.Body)
	if err != nil {
		s.log.Warn().Err(err).Str("route", routeName).Str("codec", bc.Name()).Msg("body decode failed, delivering raw bytes")
		metrics.RecordDecodeError("body")
		body = append([]byte(nil), msg.Body...)
	}

	if msg.ID > 0 {
		item, ok := c.pending.take(msg.ID)
		if !ok {
			s.log.Debug().Uint64("id", msg.ID).Msg("no callback for response")
			metrics.RecordRoutingDrop("no_callback")
			return
		}
		metrics.RecordResponse(bc.Name())
		if item.cb != nil {
			item.cb(nil, body)
		}
		return
	}

	metrics.RecordPush(bc.Name())
	s.emit(pinion.PushEvent{Route: routeName, Body: body})
}

// inboundRoute finds the route of an inbound message. Responses are routed by the id
// of the request; compressed routes are expanded through the dictionary.
func (s *Session) inboundRoute(c *conn, msg protocol.Message) (string, bool) {
	if msg.ID > 0 {
		routeName, ok := c.pending.takeRoute(msg.ID)
		if !ok {
			s.log.Warn().Uint64("id", msg.ID).Msg("response for unknown request id")
			metrics.RecordRoutingDrop("unknown_id")
			return "", false
		}
		return routeName, true
	}
	if msg.Type == protocol.MessageResponse {
		s.log.Warn().Msg("response without request id")
		metrics.RecordRoutingDrop("empty_route")
		return "", false
	}

	if !msg.CompressRoute {
		if msg.Route == "" {
			s.log.Warn().Stringer("type", msg.Type).Msg("message without route")
			metrics.RecordRoutingDrop("empty_route")
			return "", false
		}
		return msg.Route, true
	}
	routeName, ok := c.dict.Route(msg.RouteCode)
	if !ok {
		s.log.Error().Err(pinion.ErrUnknownRouteCode).Uint16("code", msg.RouteCode).Msg("dropping message")
		metrics.RecordRoutingDrop("unknown_route_code")
		return "", false
	}
	return routeName, true
}
