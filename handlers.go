package broker

import (
	"context"
	"errors"

	"github.com/auraspeak/broker/internal/router"
	"github.com/auraspeak/broker/pkg/api"
	"github.com/auraspeak/broker/pkg/protocol"
	log "github.com/sirupsen/logrus"
)

// Registrar is anything packet handlers can be installed on.
type Registrar interface {
	OnPacket(packetType protocol.PacketType, handler router.PacketHandler)
}

// Routes installs the registration API handlers on s.
func (r *Registry) Routes(s Registrar) {
	s.OnPacket(protocol.PacketTypeRegisterNode, r.handleRegisterNode)
	s.OnPacket(protocol.PacketTypeUnregisterNode, r.handleUnregisterNode)
	s.OnPacket(protocol.PacketTypeRegisterPublisher, r.handleRegisterPublisher)
	s.OnPacket(protocol.PacketTypeRegisterSubscriber, r.handleRegisterSubscriber)
	s.OnPacket(protocol.PacketTypeListNodes, r.handleListNodes)
}

func traceRequest(packet *protocol.Packet, clientAddr string) {
	if debug {
		log.WithField("caller", "registry").Debugf("%s from %s: %s", packet.PacketHeader.PacketType, clientAddr, packet.Payload)
	}
}

func (r *Registry) handleRegisterNode(packet *protocol.Packet, clientAddr string) (any, error) {
	traceRequest(packet, clientAddr)
	var req protocol.RegisterNodeRequest
	if err := packet.Unmarshal(&req); err != nil {
		return nil, err
	}
	return nil, r.RegisterNode(context.Background(), api.NodeInfo{
		Name:        req.Name,
		PID:         req.PID,
		ControlIP:   req.ControlIP,
		ControlPort: req.ControlPort,
	})
}

// handleUnregisterNode replies ok once the node is removed, even if some
// teardown calls failed.
func (r *Registry) handleUnregisterNode(packet *protocol.Packet, clientAddr string) (any, error) {
	traceRequest(packet, clientAddr)
	var req protocol.UnregisterNodeRequest
	if err := packet.Unmarshal(&req); err != nil {
		return nil, err
	}
	err := r.UnregisterNode(context.Background(), req.Name)
	if err != nil && !errors.Is(err, api.ErrUnknownNode) {
		r.logger().WithError(err).WithField("node", req.Name).Warn("Node removed with failed teardown calls")
		return nil, nil
	}
	return nil, err
}

func (r *Registry) handleRegisterPublisher(packet *protocol.Packet, clientAddr string) (any, error) {
	traceRequest(packet, clientAddr)
	req, ep, err := decodeEndpoint(packet)
	if err != nil {
		return nil, err
	}
	return nil, r.RegisterPublisher(context.Background(), req.NodeName, ep)
}

func (r *Registry) handleRegisterSubscriber(packet *protocol.Packet, clientAddr string) (any, error) {
	traceRequest(packet, clientAddr)
	req, ep, err := decodeEndpoint(packet)
	if err != nil {
		return nil, err
	}
	return nil, r.RegisterSubscriber(context.Background(), req.NodeName, ep)
}

// handleListNodes serves the registry listing one page at a time. Each page
// is cut from a fresh snapshot, so a listing spanning several pages is not
// atomic.
func (r *Registry) handleListNodes(packet *protocol.Packet, clientAddr string) (any, error) {
	traceRequest(packet, clientAddr)
	var req protocol.ListNodesRequest
	if len(packet.Payload) > 0 {
		if err := packet.Unmarshal(&req); err != nil {
			return nil, err
		}
	}
	return protocol.PageRows(protocol.FlattenNodes(r.ListNodes()), req.Cursor)
}

func decodeEndpoint(packet *protocol.Packet) (protocol.RegisterEndpointRequest, api.Endpoint, error) {
	var req protocol.RegisterEndpointRequest
	if err := packet.Unmarshal(&req); err != nil {
		return req, api.Endpoint{}, err
	}
	ep, err := req.Endpoint()
	return req, ep, err
}
