//go:build debug
// +build debug

package tracer

import (
	"net"
	"time"

	"github.com/auraspeak/broker/pkg/protocol"
	log "github.com/sirupsen/logrus"
)

// TraceDirection indicates the direction of a trace event.
type TraceDirection string

const (
	// TraceIn indicates an incoming packet.
	TraceIn TraceDirection = "in"
	// TraceOut indicates an outgoing packet.
	TraceOut TraceDirection = "out"
)

// TraceEvent describes one packet seen on a connection.
type TraceEvent struct {
	TS      time.Time      `json:"ts"`
	Dir     TraceDirection `json:"dir"`
	Local   string         `json:"local"`
	Remote  string         `json:"remote"`
	Type    string         `json:"type"`
	Seq     uint32         `json:"seq"`
	Len     int            `json:"len"`
	Payload []byte         `json:"payload"`
}

// Tracer sends trace events to a channel without ever blocking the caller.
type Tracer struct {
	ch chan TraceEvent // if nil, Trace is a no-op
}

// NewTracer creates a new Tracer with its own event channel.
func NewTracer() *Tracer {
	return &Tracer{
		ch: make(chan TraceEvent, 2000),
	}
}

// NewTracerWithChannel creates a tracer that sends events to the given channel.
func NewTracerWithChannel(ch chan TraceEvent) *Tracer {
	return &Tracer{ch: ch}
}

// Enabled reports whether events are delivered anywhere.
func (t *Tracer) Enabled() bool { return t.ch != nil }

// Trace records packet as seen between local and remote.
func (t *Tracer) Trace(dir TraceDirection, local net.Addr, remote net.Addr, packet *protocol.Packet) {
	if t.ch == nil || packet == nil {
		return
	}
	ev := TraceEvent{
		TS:      time.Now(),
		Dir:     dir,
		Local:   addrString(local),
		Remote:  addrString(remote),
		Type:    packet.PacketHeader.PacketType.String(),
		Seq:     packet.PacketHeader.Seq,
		Len:     len(packet.Payload),
		Payload: packet.Payload,
	}
	select {
	case t.ch <- ev:
	default:
		log.WithField("caller", "tracer").Debug("Trace channel full, dropping event")
	}
}

func addrString(a net.Addr) string {
	if a == nil || a.String() == "" {
		return "unknown"
	}
	return a.String()
}
