package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// MessageType identifies the role of a data message.
type MessageType byte

const (
	MessageRequest  MessageType = 0
	MessageNotify   MessageType = 1
	MessageResponse MessageType = 2
	MessagePush     MessageType = 3
)

func (t MessageType) String() string {
	switch t {
	case MessageRequest:
		return "request"
	case MessageNotify:
		return "notify"
	case MessageResponse:
		return "response"
	case MessagePush:
		return "push"
	default:
		return fmt.Sprintf("message(%d)", byte(t))
	}
}

func (t MessageType) hasID() bool {
	return t == MessageRequest || t == MessageResponse
}

func (t MessageType) hasRoute() bool {
	return t == MessageRequest || t == MessageNotify || t == MessagePush
}

const (
	flagCompressRoute byte = 0x01
	typeMask          byte = 0x07
	maxRouteLen            = 255
)

var (
	ErrInvalidMessageType = errors.New("protocol: invalid message type")
	ErrRouteTooLong       = errors.New("protocol: route too long")
	ErrShortMessage       = errors.New("protocol: message too short")
	ErrInvalidRoute       = errors.New("protocol: route is not valid UTF-8")
)

// Message is the envelope carried in the body of a data packet.
//
// Route holds the literal route when CompressRoute is false; RouteCode holds the
// dictionary code when it is true. Responses carry no route at all.
type Message struct {
	ID            uint64
	Type          MessageType
	CompressRoute bool
	Route         string
	RouteCode     uint16
	Body          []byte
}

// EncodeMessage encodes a message envelope:
//
//	[1 byte flag: type<<1 | compressRoute][varint id][route][body]
//
// The id is present for requests and responses only, the route for requests,
// notifies and pushes. A compressed route is a 2-byte big-endian code, a literal
// route is a 1-byte length followed by the UTF-8 bytes.
func EncodeMessage(m Message) ([]byte, error) {
	if m.Type > MessagePush {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMessageType, byte(m.Type))
	}
	if m.Type.hasRoute() && !m.CompressRoute && len(m.Route) > maxRouteLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrRouteTooLong, len(m.Route))
	}
	if m.Type.hasRoute() && !m.CompressRoute && !utf8.ValidString(m.Route) {
		return nil, ErrInvalidRoute
	}

	flag := byte(m.Type) << 1
	if m.CompressRoute && m.Type.hasRoute() {
		flag |= flagCompressRoute
	}

	out := make([]byte, 0, 1+protowire.SizeVarint(m.ID)+1+len(m.Route)+len(m.Body))
	out = append(out, flag)
	if m.Type.hasID() {
		out = protowire.AppendVarint(out, m.ID)
	}
	if m.Type.hasRoute() {
		if m.CompressRoute {
			out = binary.BigEndian.AppendUint16(out, m.RouteCode)
		} else {
			out = append(out, byte(len(m.Route)))
			out = append(out, m.Route...)
		}
	}
	out = append(out, m.Body...)
	return out, nil
}

// DecodeMessage decodes a message envelope produced by EncodeMessage.
// The body references the input data - do not modify it.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) < 1 {
		return Message{}, ErrShortMessage
	}

	flag := data[0]
	m := Message{Type: MessageType((flag >> 1) & typeMask)}
	if m.Type > MessagePush {
		return Message{}, fmt.Errorf("%w: %d", ErrInvalidMessageType, byte(m.Type))
	}
	offset := 1

	if m.Type.hasID() {
		id, n := protowire.ConsumeVarint(data[offset:])
		if n < 0 {
			return Message{}, fmt.Errorf("%w: bad id: %v", ErrShortMessage, protowire.ParseError(n))
		}
		m.ID = id
		offset += n
	}

	if m.Type.hasRoute() {
		if flag&flagCompressRoute != 0 {
			if len(data)-offset < 2 {
				return Message{}, fmt.Errorf("%w: missing route code", ErrShortMessage)
			}
			m.CompressRoute = true
			m.RouteCode = binary.BigEndian.Uint16(data[offset:])
			offset += 2
		} else {
			if len(data)-offset < 1 {
				return Message{}, fmt.Errorf("%w: missing route length", ErrShortMessage)
			}
			n := int(data[offset])
			offset++
			if len(data)-offset < n {
				return Message{}, fmt.Errorf("%w: route wants %d bytes, have %d", ErrShortMessage, n, len(data)-offset)
			}
			if !utf8.Valid(data[offset : offset+n]) {
				return Message{}, ErrInvalidRoute
			}
			m.Route = string(data[offset : offset+n])
			offset += n
		}
	}

	m.Body = data[offset:]
	return m, nil
}
