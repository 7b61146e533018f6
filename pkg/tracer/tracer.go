//go:build !debug
// +build !debug

// Package tracer records packet traffic (release build, no-op).
package tracer

import (
	"net"
	"time"

	"github.com/auraspeak/broker/pkg/protocol"
)

// TraceDirection indicates the direction of a trace event.
type TraceDirection string

const (
	// TraceIn indicates an incoming packet.
	TraceIn TraceDirection = "in"
	// TraceOut indicates an outgoing packet.
	TraceOut TraceDirection = "out"
)

// TraceEvent has the same shape as in debug builds.
type TraceEvent struct {
	TS      time.Time
	Dir     TraceDirection
	Local   string
	Remote  string
	Type    string
	Seq     uint32
	Len     int
	Payload []byte
}

// Tracer is a no-op tracer in release builds.
type Tracer struct{}

// NewTracer creates a new no-op tracer.
func NewTracer() *Tracer { return &Tracer{} }

// NewTracerWithChannel returns a no-op tracer in release builds.
func NewTracerWithChannel(ch chan TraceEvent) *Tracer { return &Tracer{} }

// Enabled reports false in release builds.
func (t *Tracer) Enabled() bool { return false }

// Trace is a no-op in release builds.
func (t *Tracer) Trace(dir TraceDirection, local net.Addr, remote net.Addr, packet *protocol.Packet) {}
