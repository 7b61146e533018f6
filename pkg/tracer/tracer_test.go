//go:build !debug
// +build !debug

package tracer

import (
	"testing"

	"github.com/auraspeak/broker/pkg/protocol"
	"github.com/stretchr/testify/assert"
)

func TestTrace_ReleaseIsNoop(t *testing.T) {
	ch := make(chan TraceEvent, 1)
	tr := NewTracerWithChannel(ch)
	assert.False(t, tr.Enabled())
	tr.Trace(TraceIn, nil, nil, &protocol.Packet{})
	assert.Empty(t, ch)
}
