// Package protocol defines the packet format spoken between nodes, the broker
// and the parameter store.
//
// A packet is a fixed header followed by a JSON payload:
//
//	+--------+----------------+-------------------+
//	| type:1 | seq:4 (BE)     | payload (<= 1024) |
//	+--------+----------------+-------------------+
//
// Every request is answered with a PacketTypeReply carrying the same Seq.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PacketType identifies the operation carried by a packet.
type PacketType uint8

const (
	PacketTypeNone PacketType = 0x00

	// Registration API, node -> broker.
	PacketTypeRegisterNode       PacketType = 0x10
	PacketTypeUnregisterNode     PacketType = 0x11
	PacketTypeRegisterPublisher  PacketType = 0x12
	PacketTypeRegisterSubscriber PacketType = 0x13
	PacketTypeListNodes          PacketType = 0x14

	// Node control, broker -> node.
	PacketTypeUpdatePublisher          PacketType = 0x20
	PacketTypeUpdateSubscriber         PacketType = 0x21
	PacketTypeKillPublisher            PacketType = 0x22
	PacketTypeKillSubscriber           PacketType = 0x23
	PacketTypeKillPublisherConnection  PacketType = 0x24
	PacketTypeKillSubscriberConnection PacketType = 0x25

	// Parameter store.
	PacketTypeParamGet    PacketType = 0x30
	PacketTypeParamSet    PacketType = 0x31
	PacketTypeParamDelete PacketType = 0x32
	PacketTypeParamList   PacketType = 0x33

	PacketTypeReply          PacketType = 0x80
	PacketTypeServerStopping PacketType = 0x81
)

// PacketTypeMapType maps every known packet type to a readable name.
var PacketTypeMapType = map[PacketType]string{
	PacketTypeNone:                     "None",
	PacketTypeRegisterNode:             "RegisterNode",
	PacketTypeUnregisterNode:           "UnregisterNode",
	PacketTypeRegisterPublisher:        "RegisterPublisher",
	PacketTypeRegisterSubscriber:       "RegisterSubscriber",
	PacketTypeListNodes:                "ListNodes",
	PacketTypeUpdatePublisher:          "UpdatePublisher",
	PacketTypeUpdateSubscriber:         "UpdateSubscriber",
	PacketTypeKillPublisher:            "KillPublisher",
	PacketTypeKillSubscriber:           "KillSubscriber",
	PacketTypeKillPublisherConnection:  "KillPublisherConnection",
	PacketTypeKillSubscriberConnection: "KillSubscriberConnection",
	PacketTypeParamGet:                 "ParamGet",
	PacketTypeParamSet:                 "ParamSet",
	PacketTypeParamDelete:              "ParamDelete",
	PacketTypeParamList:                "ParamList",
	PacketTypeReply:                    "Reply",
	PacketTypeServerStopping:           "ServerStopping",
}

// String returns the readable name of the packet type.
func (t PacketType) String() string {
	if s, ok := PacketTypeMapType[t]; ok {
		return s
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint8(t))
}

// IsValidPacketType reports whether t is a known packet type other than None.
func IsValidPacketType(t PacketType) bool {
	_, ok := PacketTypeMapType[t]
	return ok && t != PacketTypeNone
}

const (
	// HeaderSize is the encoded size of Header.
	HeaderSize = 5
	// MaxPayloadSize keeps a packet inside a single DTLS record at the default MTU.
	MaxPayloadSize = 1024
)

var (
	ErrPacketTooShort  = errors.New("packet too short")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Header precedes every payload.
type Header struct {
	PacketType PacketType
	Seq        uint32
}

// Packet is a single protocol message.
type Packet struct {
	PacketHeader Header
	Payload      []byte
}

// Encode serialises the packet.
func (p *Packet) Encode() []byte {
	b := make([]byte, HeaderSize+len(p.Payload))
	b[0] = byte(p.PacketHeader.PacketType)
	binary.BigEndian.PutUint32(b[1:HeaderSize], p.PacketHeader.Seq)
	copy(b[HeaderSize:], p.Payload)
	return b
}

// Decode parses a packet. The payload is copied out of b.
func Decode(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(b))
	}
	if len(b)-HeaderSize > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(b)-HeaderSize)
	}
	payload := make([]byte, len(b)-HeaderSize)
	copy(payload, b[HeaderSize:])
	return &Packet{
		PacketHeader: Header{
			PacketType: PacketType(b[0]),
			Seq:        binary.BigEndian.Uint32(b[1:HeaderSize]),
		},
		Payload: payload,
	}, nil
}
