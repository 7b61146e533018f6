// Package broker implements the topic registry: nodes register themselves and
// their publishers and subscribers, and the broker tells matching endpoints
// about each other. It also hosts the DTLS request/reply Server every
// endpoint of the system is served with.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auraspeak/broker/internal/config"
	mdtls "github.com/auraspeak/broker/internal/dtls"
	"github.com/auraspeak/broker/internal/router"
	"github.com/auraspeak/broker/internal/session"
	"github.com/auraspeak/broker/pkg/command"
	"github.com/auraspeak/broker/pkg/protocol"
	"github.com/auraspeak/broker/pkg/tracer"
	"github.com/pion/dtls/v3"
	log "github.com/sirupsen/logrus"
)

const handshakeTimeout = 30 * time.Second

// Server is a DTLS request/reply server. Each request packet is dispatched
// to the handler registered for its type and answered with a Reply.
type Server struct {
	Name string
	Host string
	Port int

	mu    sync.Mutex
	ln    net.Listener
	ready chan struct{}

	ctx context.Context

	ServerState

	IsAlive    int32
	shouldStop int32

	sm *session.Manager

	OutCommandCh chan command.InternalCommand

	packetRouter *router.Router
	TraceCh      chan tracer.TraceEvent

	dtlsConfig *dtls.Config

	srvConfig *config.Config
}

// ServerState holds the current state of the server.
type ServerState struct {
	updated    bool
	ShouldStop bool `json:"shouldStop"`
	IsAlive    bool `json:"isAlive"`
}

// NewServer creates a Server listening on host:port once Run is called.
// cfg may be nil; then a minimal dev/self_signed config is used.
func NewServer(name, host string, port int, ctx context.Context, cfg *config.Config) (*Server, error) {
	dcfg := cfg
	if dcfg == nil {
		dcfg = config.Default()
	}

	// Development setups in files mode get their certificates generated.
	if mdtls.Mode(dcfg) == "files" && dcfg.Server.Env == "dev" {
		if err := config.GenerateCertificates(dcfg); err != nil {
			return nil, fmt.Errorf("%s: generate certificates: %w", name, err)
		}
	}

	dtlsConfig, err := mdtls.NewDTLSConfig(dcfg)
	if err != nil {
		return nil, fmt.Errorf("%s: dtls config: %w", name, err)
	}

	srv := &Server{
		Name:         name,
		Host:         host,
		Port:         port,
		ready:        make(chan struct{}),
		ctx:          ctx,
		OutCommandCh: make(chan command.InternalCommand, 10),
		packetRouter: router.NewRouter(),
		TraceCh:      make(chan tracer.TraceEvent, 2000),
		dtlsConfig:   dtlsConfig,
		srvConfig:    dcfg,
	}
	srv.sm = session.NewManager(name, dcfg.Broker.ConnBufSize, srv.packetRouter, srv.TraceCh)
	return srv, nil
}

func (s *Server) logger() *log.Entry {
	return log.WithField("caller", s.Name)
}

// OnPacket registers a handler for a request packet type.
//
//	srv.OnPacket(protocol.PacketTypeListNodes, func(p *protocol.Packet, addr string) (any, error) {
//		return registry.Snapshot(), nil
//	})
func (s *Server) OnPacket(packetType protocol.PacketType, handler router.PacketHandler) {
	s.logger().Debugf("Registering packet handler for packet type: %s", packetType)
	s.packetRouter.OnPacket(packetType, handler)
}

// Router exposes the packet router, e.g. for nodeclient.Routes.
func (s *Server) Router() *router.Router {
	return s.packetRouter
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address, nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Sessions returns the number of connected peers.
func (s *Server) Sessions() int {
	return s.sm.Count()
}

// Run listens for DTLS connections until Stop is called or the context ends.
func (s *Server) Run() error {
	if !atomic.CompareAndSwapInt32(&s.IsAlive, 0, 1) {
		return errors.New("server is already running")
	}
	if atomic.LoadInt32(&s.shouldStop) == 1 {
		atomic.StoreInt32(&s.IsAlive, 0)
		return nil
	}
	s.packetRouter.ListRoutes()

	addr := &net.UDPAddr{IP: net.ParseIP(s.Host), Port: s.Port}
	if addr.IP == nil {
		addr.IP = net.IPv4zero
	}
	ln, err := dtls.Listen("udp", addr, s.dtlsConfig)
	if err != nil {
		atomic.StoreInt32(&s.IsAlive, 0)
		return fmt.Errorf("%s: listen %s: %w", s.Name, addr, err)
	}
	s.mu.Lock()
	if atomic.LoadInt32(&s.shouldStop) == 1 {
		s.mu.Unlock()
		_ = ln.Close()
		atomic.StoreInt32(&s.IsAlive, 0)
		return nil
	}
	s.ln = ln
	s.mu.Unlock()
	s.setIsAlive(true)
	s.notify(command.CmdServerListening)
	close(s.ready)
	s.logger().Infof("Server started on %s", ln.Addr())

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-s.ctx.Done():
			s.Stop()
		case <-stopWatch:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.shouldStop) == 1 || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger().WithError(err).Error("Accept Error")
			continue
		}
		go s.handshake(conn)
	}
	s.setIsAlive(false)
	return nil
}

func (s *Server) handshake(conn net.Conn) {
	dtlsConn, ok := conn.(*dtls.Conn)
	if !ok {
		s.logger().Error("Accept Error: Connection is not a DTLS connection")
		_ = conn.Close()
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, handshakeTimeout)
	defer cancel()
	if err := dtlsConn.HandshakeContext(ctx); err != nil {
		s.logger().WithError(err).Warnf("Handshake with %v failed", conn.RemoteAddr())
		_ = conn.Close()
		return
	}
	s.ServeConn(conn)
}

// ServeConn serves requests arriving on an already established connection.
func (s *Server) ServeConn(conn net.Conn) {
	s.sm.RegisterConn(conn)
}

// Stop stops the Server and closes all connections.
func (s *Server) Stop() {
	s.setShouldStop()

	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.sm.SendStop()
	s.sm.DisconnectAll()
}

// Broadcast sends a packet to all connected peers.
func (s *Server) Broadcast(packet *protocol.Packet) {
	s.sm.Broadcast(packet)
}

func (s *Server) notify(cmd command.InternalCommand) {
	select {
	case <-s.ctx.Done():
	case s.OutCommandCh <- cmd:
	default:
	}
}

// setShouldStop marks the server for shutdown and notifies the state update channel.
func (s *Server) setShouldStop() {
	atomic.StoreInt32(&s.shouldStop, 1)
	s.notify(command.CmdUpdateServerState)
	s.mu.Lock()
	s.updated = true
	s.ShouldStop = true
	s.mu.Unlock()
}

// setIsAlive updates the server's alive status and notifies the state update channel.
func (s *Server) setIsAlive(val bool) {
	var v int32
	if val {
		v = 1
	}
	atomic.StoreInt32(&s.IsAlive, v)
	s.notify(command.CmdUpdateServerState)
	s.mu.Lock()
	s.updated = true
	s.ServerState.IsAlive = val
	s.mu.Unlock()
}

// State returns a copy of the server state.
func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ServerState
}
