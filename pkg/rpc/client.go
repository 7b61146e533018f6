// Package rpc implements the calling side of the request/reply protocol.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auraspeak/broker/pkg/protocol"
	"github.com/pion/dtls/v3"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrServerStopping is returned when the remote side announced shutdown.
	ErrServerStopping = errors.New("server stopping")
	// ErrClosed is returned by Call after Close.
	ErrClosed = errors.New("client closed")
)

const readBufSize = protocol.HeaderSize + protocol.MaxPayloadSize

// Client sends requests over a single connection, one at a time.
type Client struct {
	conn net.Conn

	mu     sync.Mutex
	seq    atomic.Uint32
	buf    []byte
	closed atomic.Bool
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		buf:  make([]byte, readBufSize),
	}
}

// Dial opens a DTLS connection to addr and completes the handshake.
func Dial(ctx context.Context, addr string, cfg *dtls.Config) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := dtls.Dial("udp", raddr, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake %s: %w", addr, err)
	}
	log.WithField("caller", "rpc").Debugf("Connected to %s", addr)
	return NewClient(conn), nil
}

// RemoteAddr returns the address of the peer.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Call sends req as a packet of type t and waits for the matching reply.
// A non-ok reply is returned as a *protocol.RemoteError; resp may be nil.
func (c *Client) Call(ctx context.Context, t protocol.PacketType, req, resp any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	seq := c.seq.Add(1)
	packet, err := protocol.NewPacket(t, seq, req)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := c.conn.Write(packet.Encode()); err != nil {
		return c.ioErr(ctx, "write", err)
	}

	for {
		n, err := c.conn.Read(c.buf)
		if err != nil {
			return c.ioErr(ctx, "read", err)
		}
		in, err := protocol.Decode(c.buf[:n])
		if err != nil {
			log.WithField("caller", "rpc").WithError(err).Warn("Dropping undecodable reply")
			continue
		}
		switch in.PacketHeader.PacketType {
		case protocol.PacketTypeServerStopping:
			return ErrServerStopping
		case protocol.PacketTypeReply:
		default:
			continue
		}
		if in.PacketHeader.Seq != seq {
			log.WithField("caller", "rpc").Debugf("Skipping stale reply seq=%d want=%d", in.PacketHeader.Seq, seq)
			continue
		}
		var reply protocol.Reply
		if err := in.Unmarshal(&reply); err != nil {
			return err
		}
		if err := reply.Err(); err != nil {
			return err
		}
		return reply.Decode(resp)
	}
}

func (c *Client) ioErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", op, c.conn.RemoteAddr(), ctxErr)
	}
	// The conn deadline can fire just before the context notices.
	if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", op, c.conn.RemoteAddr(), context.DeadlineExceeded)
	}
	return fmt.Errorf("%s %s: %w", op, c.conn.RemoteAddr(), err)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
