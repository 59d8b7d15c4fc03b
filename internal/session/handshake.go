package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/luciancaetano/pinion"
	"github.com/luciancaetano/pinion/internal/codec"
	"github.com/luciancaetano/pinion/internal/metrics"
	"github.com/luciancaetano/pinion/internal/protocol"
	"github.com/luciancaetano/pinion/internal/route"
)

func buildHandshake(user map[string]any) ([]byte, error) {
	if user == nil {
		user = map[string]any{}
	}
	return json.Marshal(protocol.HandshakeRequest{
		Sys:  protocol.HandshakeSys{Type: pinion.ClientType, Version: pinion.ClientVersion},
		User: user,
	})
}

// Negotiated is what a successful handshake response configures.
type Negotiated struct {
	Interval time.Duration
	Timeout  time.Duration
	Dict     *route.Dictionary
	Codecs   *codec.Selector
}

// ParseHandshakeSys turns the sys block of an accepted handshake into session
// parameters. The timeout is twice the interval.
func ParseHandshakeSys(sys protocol.HandshakeSysInfo) (Negotiated, error) {
	var n Negotiated
	if sys.Heartbeat > 0 {
		n.Interval = time.Duration(sys.Heartbeat * float64(time.Second))
		n.Timeout = 2 * n.Interval
	}

	dict, err := route.FromJSON(sys.Dict)
	if err != nil {
		return Negotiated{}, err
	}
	n.Dict = dict

	var client, server map[string]any
	if sys.Protos != nil {
		client, server = sys.Protos.Client, sys.Protos.Server
	}
	codecs, err := codec.NewSelector(client, server)
	if err != nil {
		return Negotiated{}, err
	}
	n.Codecs = codecs
	return n, nil
}

func (s *Session) onHandshake(c *conn, body []byte) {
	if s.State() != pinion.StateHandshaking {
		s.log.Warn().Stringer("state", s.State()).Msg("unexpected handshake packet")
		return
	}

	var res protocol.HandshakeResponse
	if err := json.Unmarshal(body, &res); err != nil {
		s.log.Error().Err(err).Msg("malformed handshake response")
		metrics.RecordDecodeError("handshake")
		s.emit(pinion.ErrorEvent{Reason: pinion.ReasonBadHandshake, Err: err})
		return
	}
	metrics.RecordHandshake("client", res.Code)

	switch res.Code {
	case pinion.ResCodeOK:
	case pinion.ResCodeOldClient:
		s.log.Error().Int("code", res.Code).Msg(pinion.ReasonOldClient)
		s.emit(pinion.ErrorEvent{Reason: pinion.ReasonOldClient, Err: pinion.ErrOldClient})
		return
	default:
		s.log.Error().Int("code", res.Code).Msg(pinion.ReasonHandshakeFail)
		s.emit(pinion.ErrorEvent{
			Reason: pinion.ReasonHandshakeFail,
			Err:    fmt.Errorf("%w: code %d", pinion.ErrHandshakeFailed, res.Code),
		})
		return
	}

	n, err := ParseHandshakeSys(res.Sys)
	if err != nil {
		s.log.Error().Err(err).Msg("invalid handshake parameters")
		s.emit(pinion.ErrorEvent{
			Reason: pinion.ReasonBadHandshake,
			Err:    fmt.Errorf("%w: %w", pinion.ErrHandshakeFailed, err),
		})
		return
	}
	c.dict = n.Dict
	c.codecs = n.Codecs
	c.hb.Configure(n.Interval, n.Timeout)

	if err := s.sendPacket(c, protocol.PacketHandshakeAck, nil); err != nil {
		s.log.Error().Err(err).Msg("failed to send handshake ack")
		s.emit(pinion.IOErrorEvent{Err: err})
		return
	}
	s.setState(pinion.StateEstablished)
	s.log.Info().
		Dur("heartbeat", n.Interval).
		Int("dict", n.Dict.Len()).
		Msg("handshake complete")

	if s.cfg.HandshakeCallback != nil {
		s.cfg.HandshakeCallback(res.User)
	}
	if cb := c.initCb; cb != nil {
		c.initCb = nil
		cb()
	}
}
