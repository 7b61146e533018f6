// Package nodeclient is the node side of the broker protocol: a client for
// the registration API, a client for the parameter store and the handlers a
// node serves on its control endpoint.
package nodeclient

import (
	"context"
	"fmt"

	"github.com/auraspeak/broker/pkg/api"
	"github.com/auraspeak/broker/pkg/protocol"
	"github.com/auraspeak/broker/pkg/rpc"
	"github.com/pion/dtls/v3"
)

// Client calls the broker's registration API. A call succeeded, the wire
// boolean being true, iff it returns nil.
type Client struct {
	rpc *rpc.Client
}

var _ api.RegistrationService = (*Client)(nil)

// New wraps an rpc client connected to the broker.
func New(c *rpc.Client) *Client {
	return &Client{rpc: c}
}

// Dial connects to the broker at addr.
func Dial(ctx context.Context, addr string, cfg *dtls.Config) (*Client, error) {
	c, err := rpc.Dial(ctx, addr, cfg)
	if err != nil {
		return nil, err
	}
	return New(c), nil
}

// RegisterNode registers the calling node. It fails with api.ErrDuplicateName
// when the name is taken.
func (c *Client) RegisterNode(ctx context.Context, info api.NodeInfo) error {
	return c.rpc.Call(ctx, protocol.PacketTypeRegisterNode, protocol.RegisterNodeRequest{
		Name:        info.Name,
		PID:         info.PID,
		ControlIP:   info.ControlIP,
		ControlPort: info.ControlPort,
	}, nil)
}

// UnregisterNode removes the node and everything it owns.
func (c *Client) UnregisterNode(ctx context.Context, name string) error {
	return c.rpc.Call(ctx, protocol.PacketTypeUnregisterNode, protocol.UnregisterNodeRequest{Name: name}, nil)
}

// RegisterPublisher advertises a publisher owned by nodeName.
func (c *Client) RegisterPublisher(ctx context.Context, nodeName string, pub api.Endpoint) error {
	return c.rpc.Call(ctx, protocol.PacketTypeRegisterPublisher, endpointRequest(nodeName, pub), nil)
}

// RegisterSubscriber advertises a subscriber owned by nodeName.
func (c *Client) RegisterSubscriber(ctx context.Context, nodeName string, sub api.Endpoint) error {
	return c.rpc.Call(ctx, protocol.PacketTypeRegisterSubscriber, endpointRequest(nodeName, sub), nil)
}

// ListNodes returns the broker's current view of the registry. The listing
// is fetched page by page.
func (c *Client) ListNodes(ctx context.Context) ([]protocol.NodeSnapshot, error) {
	var rows []protocol.ListRow
	cursor := 0
	for {
		var page protocol.ListNodesPage
		if err := c.rpc.Call(ctx, protocol.PacketTypeListNodes, protocol.ListNodesRequest{Cursor: cursor}, &page); err != nil {
			return nil, err
		}
		rows = append(rows, page.Rows...)
		if page.Next >= page.Total {
			break
		}
		if page.Next <= cursor {
			return nil, fmt.Errorf("list nodes: no progress at row %d of %d", cursor, page.Total)
		}
		cursor = page.Next
	}
	return protocol.AssembleNodes(rows), nil
}

// Close closes the connection to the broker.
func (c *Client) Close() error {
	return c.rpc.Close()
}

func endpointRequest(nodeName string, ep api.Endpoint) protocol.RegisterEndpointRequest {
	return protocol.RegisterEndpointRequest{
		NodeName: nodeName,
		ID:       ep.ID,
		Topic:    ep.Topic,
		IP:       ep.IP,
		Port:     ep.Port,
		Protocol: string(ep.Protocol),
	}
}
