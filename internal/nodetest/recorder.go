// Package nodetest provides a recording api.NodeControl for tests.
package nodetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/auraspeak/broker/internal/nodecall"
	"github.com/auraspeak/broker/pkg/api"
)

// Call is one recorded control call.
type Call struct {
	Node     string
	Op       string
	ID       api.EndpointID
	PeerID   api.EndpointID
	PeerIP   string
	PeerPort int
}

func (c Call) String() string {
	if c.PeerID == "" {
		return fmt.Sprintf("%s.%s(%s)", c.Node, c.Op, c.ID)
	}
	return fmt.Sprintf("%s.%s(%s, %s, %s:%d)", c.Node, c.Op, c.ID, c.PeerID, c.PeerIP, c.PeerPort)
}

// Journal records calls made to every Control it hands out, in call order.
type Journal struct {
	mu    sync.Mutex
	calls []Call
}

// NewJournal returns an empty Journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Node returns a Control recording under the given node name.
func (j *Journal) Node(name string) *Control {
	return &Control{name: name, journal: j, fail: map[string]error{}}
}

// Calls returns every recorded call.
func (j *Journal) Calls() []Call {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Call(nil), j.calls...)
}

// Strings returns every recorded call formatted with Call.String.
func (j *Journal) Strings() []string {
	calls := j.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// CallsTo returns the calls made to one node.
func (j *Journal) CallsTo(node string) []Call {
	var out []Call
	for _, c := range j.Calls() {
		if c.Node == node {
			out = append(out, c)
		}
	}
	return out
}

// Reset drops every recorded call.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = nil
}

func (j *Journal) record(c Call) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, c)
}

// Control is a recording api.NodeControl. Failed calls are recorded too.
type Control struct {
	name    string
	journal *Journal

	mu     sync.Mutex
	fail   map[string]error
	closed bool
}

var _ api.NodeControl = (*Control)(nil)

// FailWith makes every call of op return err. A nil err clears it.
func (c *Control) FailWith(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.fail, op)
		return
	}
	c.fail[op] = err
}

// Close marks the control as released.
func (c *Control) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Control) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Control) do(call Call) error {
	call.Node = c.name
	c.journal.record(call)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail[call.Op]
}

func (c *Control) UpdatePublisher(_ context.Context, pubID, peerSubID api.EndpointID, peerIP string, peerPort int) error {
	return c.do(Call{Op: nodecall.OpUpdatePublisher, ID: pubID, PeerID: peerSubID, PeerIP: peerIP, PeerPort: peerPort})
}

func (c *Control) UpdateSubscriber(_ context.Context, subID, peerPubID api.EndpointID, peerIP string, peerPort int) error {
	return c.do(Call{Op: nodecall.OpUpdateSubscriber, ID: subID, PeerID: peerPubID, PeerIP: peerIP, PeerPort: peerPort})
}

func (c *Control) KillPublisher(_ context.Context, pubID api.EndpointID) error {
	return c.do(Call{Op: nodecall.OpKillPublisher, ID: pubID})
}

func (c *Control) KillSubscriber(_ context.Context, subID api.EndpointID) error {
	return c.do(Call{Op: nodecall.OpKillSubscriber, ID: subID})
}

func (c *Control) KillPublisherConnection(_ context.Context, subID api.EndpointID) error {
	return c.do(Call{Op: nodecall.OpKillPublisherConnection, ID: subID})
}

func (c *Control) KillSubscriberConnection(_ context.Context, pubID api.EndpointID) error {
	return c.do(Call{Op: nodecall.OpKillSubscriberConnection, ID: pubID})
}
