// Package api defines the contracts shared between the broker and the nodes
// that register with it.
//
// The broker exposes a RegistrationService to nodes and consumes one
// NodeControl per registered node. The two directions are kept as separate
// interfaces so neither side needs a handle on the other's implementation.
package api

import (
	"context"
	"fmt"
	"strings"
)

// Protocol is the transport kind a publisher or subscriber endpoint uses.
type Protocol string

const (
	// TCP endpoints exchange data over stream sockets.
	TCP Protocol = "tcp"
	// UDP endpoints exchange data over datagram sockets.
	UDP Protocol = "udp"
)

// ParseProtocol parses "tcp" or "udp" case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case TCP, UDP:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidProtocol, s)
	}
}

// EndpointID identifies a publisher or subscriber. It is unique only inside
// the namespace of the node that owns the endpoint.
type EndpointID string

// Endpoint describes a publisher or a subscriber as advertised by its node.
type Endpoint struct {
	ID       EndpointID `json:"id" yaml:"id"`
	Topic    string     `json:"topic" yaml:"topic"`
	IP       string     `json:"ip" yaml:"ip"`
	Port     int        `json:"port" yaml:"port"`
	Protocol Protocol   `json:"protocol" yaml:"protocol"`
}

// Matches reports whether two endpoints share topic and protocol.
// Addresses are irrelevant to matching.
func (e Endpoint) Matches(other Endpoint) bool {
	return e.Topic == other.Topic && e.Protocol == other.Protocol
}

// NodeInfo is what a node supplies when it registers.
type NodeInfo struct {
	Name        string `json:"name" yaml:"name"`
	PID         int    `json:"pid" yaml:"pid"`
	ControlIP   string `json:"control_ip" yaml:"control_ip"`
	ControlPort int    `json:"control_port" yaml:"control_port"`
}

// ControlAddress returns the host:port of the node's control endpoint.
func (n NodeInfo) ControlAddress() string {
	return fmt.Sprintf("%s:%d", n.ControlIP, n.ControlPort)
}

// RegistrationService is the API the broker exposes to nodes.
type RegistrationService interface {
	RegisterNode(ctx context.Context, info NodeInfo) error
	UnregisterNode(ctx context.Context, name string) error
	RegisterPublisher(ctx context.Context, nodeName string, pub Endpoint) error
	RegisterSubscriber(ctx context.Context, nodeName string, sub Endpoint) error
}

// NodeControl is implemented by every node and called by the broker.
type NodeControl interface {
	// UpdatePublisher opens or refreshes a send-side connection.
	UpdatePublisher(ctx context.Context, pubID, peerSubID EndpointID, peerIP string, peerPort int) error
	// UpdateSubscriber opens or refreshes a receive-side connection.
	UpdateSubscriber(ctx context.Context, subID, peerPubID EndpointID, peerIP string, peerPort int) error
	// KillPublisher tears down a local publisher endpoint entirely.
	KillPublisher(ctx context.Context, pubID EndpointID) error
	// KillSubscriber tears down a local subscriber endpoint entirely.
	KillSubscriber(ctx context.Context, subID EndpointID) error
	// KillPublisherConnection drops the send-side connection towards subID.
	// It is a no-op when the node holds no such connection.
	KillPublisherConnection(ctx context.Context, subID EndpointID) error
	// KillSubscriberConnection drops the receive-side connection fed by pubID.
	// It is a no-op when the node holds no such connection.
	KillSubscriberConnection(ctx context.Context, pubID EndpointID) error
}
