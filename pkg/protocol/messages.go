package protocol

import (
	"fmt"

	"github.com/auraspeak/broker/pkg/api"
	json "github.com/goccy/go-json"
)

// RegisterNodeRequest is the payload of PacketTypeRegisterNode.
type RegisterNodeRequest struct {
	Name        string `json:"name"`
	PID         int    `json:"pid"`
	ControlIP   string `json:"control_ip"`
	ControlPort int    `json:"control_port"`
}

// UnregisterNodeRequest is the payload of PacketTypeUnregisterNode.
type UnregisterNodeRequest struct {
	Name string `json:"name"`
}

// RegisterEndpointRequest is the payload of PacketTypeRegisterPublisher and
// PacketTypeRegisterSubscriber.
type RegisterEndpointRequest struct {
	NodeName string         `json:"node_name"`
	ID       api.EndpointID `json:"id"`
	Topic    string         `json:"topic"`
	IP       string         `json:"ip"`
	Port     int            `json:"port"`
	Protocol string         `json:"protocol"`
}

// Endpoint validates the protocol and returns the advertised endpoint.
func (r RegisterEndpointRequest) Endpoint() (api.Endpoint, error) {
	proto, err := api.ParseProtocol(r.Protocol)
	if err != nil {
		return api.Endpoint{}, err
	}
	return api.Endpoint{ID: r.ID, Topic: r.Topic, IP: r.IP, Port: r.Port, Protocol: proto}, nil
}

// NodeSnapshot is one node of the registry listing.
type NodeSnapshot struct {
	Name        string         `json:"name" yaml:"name"`
	PID         int            `json:"pid" yaml:"pid"`
	ControlIP   string         `json:"control_ip" yaml:"control_ip"`
	ControlPort int            `json:"control_port" yaml:"control_port"`
	Session     string         `json:"session" yaml:"session"`
	Publishers  []api.Endpoint `json:"publishers" yaml:"publishers"`
	Subscribers []api.Endpoint `json:"subscribers" yaml:"subscribers"`
}

// UpdateRequest is the payload of PacketTypeUpdatePublisher and
// PacketTypeUpdateSubscriber. ID is the local endpoint, PeerID the remote one.
type UpdateRequest struct {
	ID       api.EndpointID `json:"id"`
	PeerID   api.EndpointID `json:"peer_id"`
	PeerIP   string         `json:"peer_ip"`
	PeerPort int            `json:"peer_port"`
}

// KillRequest is the payload of the four kill packet types.
type KillRequest struct {
	ID api.EndpointID `json:"id"`
}

// ParamRequest is the payload of the parameter store packet types.
// For ParamList, Key is used as a prefix.
type ParamRequest struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// ParamValue is the result of ParamGet.
type ParamValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// NewPacket encodes v as the payload of a packet of type t.
func NewPacket(t PacketType, seq uint32, v any) (*Packet, error) {
	var payload []byte
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		payload = b
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %s payload is %d bytes", ErrPayloadTooLarge, t, len(payload))
	}
	return &Packet{
		PacketHeader: Header{PacketType: t, Seq: seq},
		Payload:      payload,
	}, nil
}

// Unmarshal decodes the packet payload into v.
func (p *Packet) Unmarshal(v any) error {
	if err := json.Unmarshal(p.Payload, v); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrBadRequest, p.PacketHeader.PacketType, err)
	}
	return nil
}
