// Package session serves the request side of inbound connections.
package session

import (
	"errors"
	"net"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/auraspeak/broker/internal/router"
	"github.com/auraspeak/broker/pkg/protocol"
	"github.com/auraspeak/broker/pkg/tracer"
	log "github.com/sirupsen/logrus"
)

// broadcastWriteTimeout bounds a push to a peer that stopped reading.
const broadcastWriteTimeout = time.Second

// Manager tracks live connections, runs one read loop per connection and
// answers every request with a Reply carrying the request's sequence number.
type Manager struct {
	name        string
	connBufSize uint
	conns       *haxmap.Map[string, net.Conn]

	router *router.Router

	tracer *tracer.Tracer
}

// NewManager creates a Manager. name tags the log entries of this manager.
func NewManager(
	name string,
	connBufSize uint,
	router *router.Router,
	traceCh chan tracer.TraceEvent,
) *Manager {
	if connBufSize < protocol.HeaderSize+protocol.MaxPayloadSize {
		connBufSize = protocol.HeaderSize + protocol.MaxPayloadSize
	}
	return &Manager{
		name:        name,
		connBufSize: connBufSize,
		conns:       haxmap.New[string, net.Conn](),
		router:      router,
		tracer:      tracer.NewTracerWithChannel(traceCh),
	}
}

func (m *Manager) logger() *log.Entry {
	return log.WithField("caller", m.name)
}

// RegisterConn registers a new connection and starts serving it.
func (m *Manager) RegisterConn(conn net.Conn) {
	key := conn.RemoteAddr().String()
	if old, ok := m.conns.Get(key); ok && old != conn {
		_ = old.Close()
	}
	m.conns.Set(key, conn)

	go m.connReadLoop(conn)
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	return int(m.conns.Len())
}

func (m *Manager) connReadLoop(conn net.Conn) {
	buf := make([]byte, m.connBufSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				m.logger().WithError(err).Debugf("Read from %v", conn.RemoteAddr())
			}
			m.connUnregister(conn)
			return
		}
		packet, err := protocol.Decode(buf[:n])
		if err != nil {
			m.logger().WithError(err).Warnf("Dropping undecodable packet from %v", conn.RemoteAddr())
			continue
		}
		m.tracer.Trace(tracer.TraceIn, conn.LocalAddr(), conn.RemoteAddr(), packet)

		switch packet.PacketHeader.PacketType {
		case protocol.PacketTypeReply, protocol.PacketTypeServerStopping:
			continue
		}

		result, err := m.router.HandlePacket(packet, conn.RemoteAddr().String())
		if err != nil {
			m.logger().WithError(err).Warnf("Handling %s from %v", packet.PacketHeader.PacketType, conn.RemoteAddr())
		}
		if err := m.reply(conn, packet.PacketHeader.Seq, protocol.NewReply(result, err)); err != nil {
			m.logger().WithError(err).Errorf("Reply to %v", conn.RemoteAddr())
			m.connUnregister(conn)
			return
		}
	}
}

func (m *Manager) reply(conn net.Conn, seq uint32, reply protocol.Reply) error {
	packet, err := protocol.NewPacket(protocol.PacketTypeReply, seq, reply)
	if errors.Is(err, protocol.ErrPayloadTooLarge) {
		packet, err = protocol.NewPacket(protocol.PacketTypeReply, seq, protocol.NewReply(nil, err))
	}
	if err != nil {
		return err
	}
	return m.write(conn, packet)
}

func (m *Manager) write(conn net.Conn, packet *protocol.Packet) error {
	if _, err := conn.Write(packet.Encode()); err != nil {
		return err
	}
	m.tracer.Trace(tracer.TraceOut, conn.LocalAddr(), conn.RemoteAddr(), packet)
	return nil
}

func (m *Manager) connUnregister(conn net.Conn) {
	key := conn.RemoteAddr().String()
	if cur, ok := m.conns.Get(key); ok && cur == conn {
		m.conns.Del(key)
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		m.logger().WithError(err).Debugf("Failed to disconnect %v", conn.RemoteAddr())
	}
}

// Broadcast sends a packet to all registered connections. Connections that
// fail the write are dropped.
func (m *Manager) Broadcast(packet *protocol.Packet) {
	for _, conn := range m.snapshot() {
		_ = conn.SetWriteDeadline(time.Now().Add(broadcastWriteTimeout))
		err := m.write(conn, packet)
		_ = conn.SetWriteDeadline(time.Time{})
		if err != nil {
			m.logger().WithError(err).Debugf("Broadcast to %v", conn.RemoteAddr())
			m.connUnregister(conn)
		}
	}
}

// SendStop tells every connected peer that the server is stopping.
func (m *Manager) SendStop() {
	m.Broadcast(&protocol.Packet{
		PacketHeader: protocol.Header{PacketType: protocol.PacketTypeServerStopping},
	})
}

// DisconnectAll closes and forgets all registered connections.
func (m *Manager) DisconnectAll() {
	for _, conn := range m.snapshot() {
		m.connUnregister(conn)
	}
}

func (m *Manager) snapshot() []net.Conn {
	conns := make([]net.Conn, 0, m.conns.Len())
	m.conns.ForEach(func(_ string, conn net.Conn) bool {
		conns = append(conns, conn)
		return true
	})
	return conns
}
