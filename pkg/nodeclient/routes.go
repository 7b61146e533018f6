package nodeclient

import (
	"context"

	"github.com/auraspeak/broker/internal/router"
	"github.com/auraspeak/broker/pkg/api"
	"github.com/auraspeak/broker/pkg/protocol"
)

// Registrar is anything packet handlers can be installed on, such as the
// broker Server or a router.Router.
type Registrar interface {
	OnPacket(packetType protocol.PacketType, handler router.PacketHandler)
}

// Routes installs the six node control handlers on r, each forwarding to ctl.
// A node serves these on its control endpoint so the broker can reach it.
func Routes(r Registrar, ctl api.NodeControl) {
	r.OnPacket(protocol.PacketTypeUpdatePublisher, update(ctl.UpdatePublisher))
	r.OnPacket(protocol.PacketTypeUpdateSubscriber, update(ctl.UpdateSubscriber))
	r.OnPacket(protocol.PacketTypeKillPublisher, kill(ctl.KillPublisher))
	r.OnPacket(protocol.PacketTypeKillSubscriber, kill(ctl.KillSubscriber))
	r.OnPacket(protocol.PacketTypeKillPublisherConnection, kill(ctl.KillPublisherConnection))
	r.OnPacket(protocol.PacketTypeKillSubscriberConnection, kill(ctl.KillSubscriberConnection))
}

type updateFunc func(ctx context.Context, id, peerID api.EndpointID, peerIP string, peerPort int) error

type killFunc func(ctx context.Context, id api.EndpointID) error

func update(fn updateFunc) router.PacketHandler {
	return func(packet *protocol.Packet, _ string) (any, error) {
		var req protocol.UpdateRequest
		if err := packet.Unmarshal(&req); err != nil {
			return nil, err
		}
		return nil, fn(context.Background(), req.ID, req.PeerID, req.PeerIP, req.PeerPort)
	}
}

func kill(fn killFunc) router.PacketHandler {
	return func(packet *protocol.Packet, _ string) (any, error) {
		var req protocol.KillRequest
		if err := packet.Unmarshal(&req); err != nil {
			return nil, err
		}
		return nil, fn(context.Background(), req.ID)
	}
}
