package paramstore

import (
	"github.com/auraspeak/broker/internal/router"
	"github.com/auraspeak/broker/pkg/protocol"
)

// Registrar is anything packet handlers can be installed on.
type Registrar interface {
	OnPacket(packetType protocol.PacketType, handler router.PacketHandler)
}

// Routes installs the parameter handlers for s on r.
func Routes(r Registrar, s *Store) {
	r.OnPacket(protocol.PacketTypeParamGet, func(packet *protocol.Packet, _ string) (any, error) {
		var req protocol.ParamRequest
		if err := packet.Unmarshal(&req); err != nil {
			return nil, err
		}
		value, found, err := s.Get(req.Key)
		if err != nil {
			return nil, err
		}
		return protocol.ParamValue{Key: req.Key, Value: value, Found: found}, nil
	})
	r.OnPacket(protocol.PacketTypeParamSet, func(packet *protocol.Packet, _ string) (any, error) {
		var req protocol.ParamRequest
		if err := packet.Unmarshal(&req); err != nil {
			return nil, err
		}
		return nil, s.Set(req.Key, req.Value)
	})
	r.OnPacket(protocol.PacketTypeParamDelete, func(packet *protocol.Packet, _ string) (any, error) {
		var req protocol.ParamRequest
		if err := packet.Unmarshal(&req); err != nil {
			return nil, err
		}
		return nil, s.Delete(req.Key)
	})
	r.OnPacket(protocol.PacketTypeParamList, func(packet *protocol.Packet, _ string) (any, error) {
		var req protocol.ParamRequest
		if err := packet.Unmarshal(&req); err != nil {
			return nil, err
		}
		return s.List(req.Key)
	})
}
