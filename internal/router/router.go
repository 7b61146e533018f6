// Package router dispatches decoded packets to handlers by packet type.
package router

import (
	"errors"
	"fmt"
	"sort"

	"github.com/alphadose/haxmap"
	"github.com/auraspeak/broker/internal/metrics"
	"github.com/auraspeak/broker/pkg/protocol"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrInvalidPacketType is returned for packets with an unknown type byte.
	ErrInvalidPacketType = errors.New("invalid packet type")
	// ErrNoHandler is returned for known packet types nobody registered for.
	ErrNoHandler = errors.New("no handler registered")
)

// PacketHandler handles a request packet. The returned result becomes the
// data of the reply; a non-nil error becomes a failed reply.
type PacketHandler func(packet *protocol.Packet, clientAddr string) (any, error)

// Router routes incoming packets to their registered handlers based on packet type.
type Router struct {
	handlers *haxmap.Map[protocol.PacketType, PacketHandler]
}

// NewRouter creates a new Router.
func NewRouter() *Router {
	return &Router{
		handlers: haxmap.New[protocol.PacketType, PacketHandler](),
	}
}

// OnPacket registers handler for packetType, replacing any previous one.
//
//	r.OnPacket(protocol.PacketTypeListNodes, func(p *protocol.Packet, addr string) (any, error) {
//		return registry.Snapshot(), nil
//	})
func (r *Router) OnPacket(packetType protocol.PacketType, handler PacketHandler) {
	r.handlers.Set(packetType, handler)
}

// HandlePacket runs the handler registered for the packet's type.
func (r *Router) HandlePacket(packet *protocol.Packet, clientAddr string) (any, error) {
	t := packet.PacketHeader.PacketType
	if !protocol.IsValidPacketType(t) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPacketType, t)
	}
	handler, ok := r.handlers.Get(t)
	if !ok {
		metrics.Requests.WithLabelValues(t.String(), metrics.ResultError).Inc()
		return nil, fmt.Errorf("%w for packet type: %s", ErrNoHandler, t)
	}
	result, err := handler(packet, clientAddr)
	if err != nil {
		metrics.Requests.WithLabelValues(t.String(), metrics.ResultError).Inc()
	} else {
		metrics.Requests.WithLabelValues(t.String(), metrics.ResultOK).Inc()
	}
	return result, err
}

// Routes returns the registered packet types in ascending order.
func (r *Router) Routes() []protocol.PacketType {
	out := make([]protocol.PacketType, 0, r.handlers.Len())
	r.handlers.ForEach(func(t protocol.PacketType, _ PacketHandler) bool {
		out = append(out, t)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ListRoutes logs all registered packet types at debug level.
func (r *Router) ListRoutes() {
	for _, t := range r.Routes() {
		log.WithField("caller", "router").Debugf("Packet type: %s", t)
	}
}
