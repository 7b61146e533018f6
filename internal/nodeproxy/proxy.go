// Package nodeproxy implements api.NodeControl by calling a node's control
// endpoint over the packet protocol.
package nodeproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/auraspeak/broker/internal/config"
	mdtls "github.com/auraspeak/broker/internal/dtls"
	"github.com/auraspeak/broker/pkg/api"
	"github.com/auraspeak/broker/pkg/protocol"
	"github.com/auraspeak/broker/pkg/rpc"
	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("proxy closed")

// DialFunc opens a connection to a control endpoint.
type DialFunc func(ctx context.Context, addr string) (*rpc.Client, error)

// NewDialer returns a DialFunc speaking DTLS with the client side of cfg.
func NewDialer(cfg *config.Config) DialFunc {
	return func(ctx context.Context, addr string) (*rpc.Client, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		dtlsCfg, err := mdtls.NewClientConfig(cfg, host)
		if err != nil {
			return nil, err
		}
		return rpc.Dial(ctx, addr, dtlsCfg)
	}
}

// Proxy is the broker's handle on one node. The connection is opened on the
// first call and reopened on the call after a transport failure.
type Proxy struct {
	node string
	addr string
	dial DialFunc

	mu     sync.Mutex
	client *rpc.Client
	closed bool
}

var _ api.NodeControl = (*Proxy)(nil)

// New returns a Proxy for the node's control endpoint. Nothing is dialed yet.
func New(info api.NodeInfo, dial DialFunc) *Proxy {
	return &Proxy{
		node: info.Name,
		addr: info.ControlAddress(),
		dial: dial,
	}
}

func (p *Proxy) logger() *log.Entry {
	return log.WithField("caller", "nodeproxy").WithField("node", p.node)
}

// Addr returns the control address the proxy calls.
func (p *Proxy) Addr() string {
	return p.addr
}

func (p *Proxy) UpdatePublisher(ctx context.Context, pubID, peerSubID api.EndpointID, peerIP string, peerPort int) error {
	return p.call(ctx, protocol.PacketTypeUpdatePublisher, protocol.UpdateRequest{
		ID: pubID, PeerID: peerSubID, PeerIP: peerIP, PeerPort: peerPort,
	})
}

func (p *Proxy) UpdateSubscriber(ctx context.Context, subID, peerPubID api.EndpointID, peerIP string, peerPort int) error {
	return p.call(ctx, protocol.PacketTypeUpdateSubscriber, protocol.UpdateRequest{
		ID: subID, PeerID: peerPubID, PeerIP: peerIP, PeerPort: peerPort,
	})
}

func (p *Proxy) KillPublisher(ctx context.Context, pubID api.EndpointID) error {
	return p.call(ctx, protocol.PacketTypeKillPublisher, protocol.KillRequest{ID: pubID})
}

func (p *Proxy) KillSubscriber(ctx context.Context, subID api.EndpointID) error {
	return p.call(ctx, protocol.PacketTypeKillSubscriber, protocol.KillRequest{ID: subID})
}

func (p *Proxy) KillPublisherConnection(ctx context.Context, subID api.EndpointID) error {
	return p.call(ctx, protocol.PacketTypeKillPublisherConnection, protocol.KillRequest{ID: subID})
}

func (p *Proxy) KillSubscriberConnection(ctx context.Context, pubID api.EndpointID) error {
	return p.call(ctx, protocol.PacketTypeKillSubscriberConnection, protocol.KillRequest{ID: pubID})
}

// call sends one request. An error reply from the node is returned as is;
// anything else drops the connection and is reported as unreachable.
func (p *Proxy) call(ctx context.Context, t protocol.PacketType, req any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: %s: %w", api.ErrPeerUnreachable, p.addr, ErrClosed)
	}
	if p.client == nil {
		c, err := p.dial(ctx, p.addr)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", api.ErrPeerUnreachable, p.addr, err)
		}
		p.client = c
	}

	err := p.client.Call(ctx, t, req, nil)
	if err == nil {
		return nil
	}
	var remote *protocol.RemoteError
	if errors.As(err, &remote) {
		return err
	}
	p.logger().WithError(err).Debugf("Dropping connection to %s", p.addr)
	_ = p.client.Close()
	p.client = nil
	return fmt.Errorf("%w: %s: %w", api.ErrPeerUnreachable, p.addr, err)
}

// Close releases the connection. Later calls fail.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}
