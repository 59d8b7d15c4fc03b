package protocol

import (
	"errors"
	"fmt"
)

const (
	headerSize    = 4
	maxPacketBody = 1<<24 - 1 // 3-byte length field
)

// PacketType identifies the purpose of a packet.
type PacketType byte

const (
	PacketHandshake    PacketType = 1
	PacketHandshakeAck PacketType = 2
	PacketHeartbeat    PacketType = 3
	PacketData         PacketType = 4
	PacketKick         PacketType = 5
)

func (t PacketType) String() string {
	switch t {
	case PacketHandshake:
		return "handshake"
	case PacketHandshakeAck:
		return "handshake_ack"
	case PacketHeartbeat:
		return "heartbeat"
	case PacketData:
		return "data"
	case PacketKick:
		return "kick"
	default:
		return fmt.Sprintf("packet(%d)", byte(t))
	}
}

func (t PacketType) valid() bool {
	return t >= PacketHandshake && t <= PacketKick
}

var (
	ErrShortPacket       = errors.New("protocol: data too short")
	ErrBodyTooLarge      = errors.New("protocol: packet body too large")
	ErrInvalidPacketType = errors.New("protocol: invalid packet type")
)

// Packet is one framed unit on the wire.
type Packet struct {
	Type PacketType
	Body []byte
}

// EncodePacket encodes the type as the first byte, the body length as the next 3 bytes
// (big-endian) and then the body.
func EncodePacket(typ PacketType, body []byte) ([]byte, error) {
	if !typ.valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPacketType, byte(typ))
	}
	if len(body) > maxPacketBody {
		return nil, fmt.Errorf("%w: %d exceeds maximum %d bytes", ErrBodyTooLarge, len(body), maxPacketBody)
	}

	n := len(body)
	out := make([]byte, headerSize+n)
	out[0] = byte(typ)
	out[1] = byte(n >> 16)
	out[2] = byte(n >> 8)
	out[3] = byte(n)
	copy(out[headerSize:], body)
	return out, nil
}

// DecodePackets decodes every packet contained in data. A single transport frame may
// carry several packets back to back.
// Bodies reference the input data for performance - do not modify them.
func DecodePackets(data []byte) ([]Packet, error) {
	if len(data) < headerSize {
		return nil, ErrShortPacket
	}

	var out []Packet
	for offset := 0; offset < len(data); {
		if len(data)-offset < headerSize {
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrShortPacket, len(data)-offset)
		}
		typ := PacketType(data[offset])
		if !typ.valid() {
			return nil, fmt.Errorf("%w: %d", ErrInvalidPacketType, byte(typ))
		}
		n := int(data[offset+1])<<16 | int(data[offset+2])<<8 | int(data[offset+3])
		offset += headerSize
		if len(data)-offset < n {
			return nil, fmt.Errorf("%w: body wants %d bytes, have %d", ErrShortPacket, n, len(data)-offset)
		}
		out = append(out, Packet{Type: typ, Body: data[offset : offset+n]})
		offset += n
	}
	return out, nil
}
