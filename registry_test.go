package broker

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/auraspeak/broker/internal/nodecall"
	"github.com/auraspeak/broker/internal/nodetest"
	"github.com/auraspeak/broker/pkg/api"
	"github.com/auraspeak/broker/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registryFixture struct {
	reg      *Registry
	journal  *nodetest.Journal
	controls map[string]*nodetest.Control
	dials    int
}

func newRegistry(t *testing.T) *registryFixture {
	t.Helper()
	f := &registryFixture{journal: nodetest.NewJournal(), controls: map[string]*nodetest.Control{}}
	f.reg = NewRegistry(func(info api.NodeInfo) (api.NodeControl, error) {
		f.dials++
		ctl := f.journal.Node(info.Name)
		f.controls[info.Name] = ctl
		return ctl, nil
	}, time.Second)
	return f
}

func (f *registryFixture) node(t *testing.T, names ...string) {
	t.Helper()
	for i, n := range names {
		require.NoError(t, f.reg.RegisterNode(context.Background(), api.NodeInfo{
			Name: n, PID: 1000 + i, ControlIP: "127.0.0.1", ControlPort: 7000 + i,
		}))
	}
}

func (f *registryFixture) pub(t *testing.T, node, id, topic string, proto api.Protocol, port int) {
	t.Helper()
	require.NoError(t, f.reg.RegisterPublisher(context.Background(), node, api.Endpoint{
		ID: api.EndpointID(id), Topic: topic, IP: "10.0.0.1", Port: port, Protocol: proto,
	}))
}

func (f *registryFixture) sub(t *testing.T, node, id, topic string, proto api.Protocol, port int) {
	t.Helper()
	require.NoError(t, f.reg.RegisterSubscriber(context.Background(), node, api.Endpoint{
		ID: api.EndpointID(id), Topic: topic, IP: "10.0.0.2", Port: port, Protocol: proto,
	}))
}

func TestRegisterNode_Duplicate(t *testing.T) {
	f := newRegistry(t)
	f.node(t, "talker")

	err := f.reg.RegisterNode(context.Background(), api.NodeInfo{Name: "talker", PID: 5})
	assert.ErrorIs(t, err, api.ErrDuplicateName)

	nodes := f.reg.ListNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, 1000, nodes[0].PID)
	assert.Equal(t, 1, f.dials, "no control handle is built for a rejected name")
}

func TestRegisterNode_EmptyName(t *testing.T) {
	f := newRegistry(t)
	err := f.reg.RegisterNode(context.Background(), api.NodeInfo{Name: "  "})
	assert.ErrorIs(t, err, protocol.ErrBadRequest)
	assert.Empty(t, f.reg.ListNodes())
}

func TestRegisterNode_DialFailure(t *testing.T) {
	reg := NewRegistry(func(api.NodeInfo) (api.NodeControl, error) {
		return nil, errors.New("bad address")
	}, time.Second)
	err := reg.RegisterNode(context.Background(), api.NodeInfo{Name: "talker"})
	assert.ErrorIs(t, err, api.ErrPeerUnreachable)
	assert.False(t, reg.Directory().Has("talker"))
}

func TestRegisterEndpoint_UnknownNode(t *testing.T) {
	f := newRegistry(t)
	err := f.reg.RegisterPublisher(context.Background(), "ghost", api.Endpoint{ID: "p", Topic: "t", Protocol: api.TCP})
	assert.ErrorIs(t, err, api.ErrUnknownNode)
	err = f.reg.RegisterSubscriber(context.Background(), "ghost", api.Endpoint{ID: "s", Topic: "t", Protocol: api.TCP})
	assert.ErrorIs(t, err, api.ErrUnknownNode)
}

func TestRegisterEndpoint_InvalidProtocol(t *testing.T) {
	f := newRegistry(t)
	f.node(t, "talker")
	err := f.reg.RegisterPublisher(context.Background(), "talker", api.Endpoint{ID: "p", Topic: "t", Protocol: "sctp"})
	assert.ErrorIs(t, err, api.ErrInvalidProtocol)
	_, pubs, _ := f.reg.Directory().Counts()
	assert.Equal(t, 0, pubs)
}

func TestRegisterEndpoint_ProtocolNormalised(t *testing.T) {
	f := newRegistry(t)
	f.node(t, "a", "b")
	f.pub(t, "a", "p", "nav", "TCP", 1)
	f.sub(t, "b", "s", "nav", api.TCP, 2)
	assert.Len(t, f.journal.Calls(), 2)

	pub, err := f.reg.Directory().Publisher("a", "p")
	require.NoError(t, err)
	assert.Equal(t, api.TCP, pub.Endpoint.Protocol)
}

func TestMatch_PublisherThenSubscriber(t *testing.T) {
	f := newRegistry(t)
	f.node(t, "talker", "listener")
	f.pub(t, "talker", "p1", "chatter", api.TCP, 9000)
	assert.Empty(t, f.journal.Calls())

	f.sub(t, "listener", "s1", "chatter", api.TCP, 9100)
	assert.Equal(t, []string{
		"talker.update_publisher(p1, s1, 10.0.0.2:9100)",
		"listener.update_subscriber(s1, p1, 10.0.0.1:9000)",
	}, f.journal.Strings())
}

func TestMatch_SameConnectedSetEitherOrder(t *testing.T) {
	run := func(pubFirst bool) []string {
		f := newRegistry(t)
		f.node(t, "a", "b")
		if pubFirst {
			f.pub(t, "a", "p", "odom", api.UDP, 1)
			f.sub(t, "b", "s", "odom", api.UDP, 2)
		} else {
			f.sub(t, "b", "s", "odom", api.UDP, 2)
			f.pub(t, "a", "p", "odom", api.UDP, 1)
		}
		got := f.journal.Strings()
		sort.Strings(got)
		return got
	}
	assert.Equal(t, run(true), run(false))
	assert.Len(t, run(true), 2)
}

func TestMatch_ProtocolMismatch(t *testing.T) {
	f := newRegistry(t)
	f.node(t, "a", "b")
	f.sub(t, "b", "s", "nav", api.TCP, 2)
	f.pub(t, "a", "p", "nav", api.UDP, 1)
	assert.Empty(t, f.journal.Calls())
}

func TestMatch_FailedConnectDoesNotFailRegistration(t *testing.T) {
	f := newRegistry(t)
	f.node(t, "a", "b")
	f.sub(t, "b", "s", "nav", api.TCP, 2)
	f.controls["b"].FailWith(nodecall.OpUpdateSubscriber, errors.New("down"))

	err := f.reg.RegisterPublisher(context.Background(), "a", api.Endpoint{ID: "p", Topic: "nav", Protocol: api.TCP})
	assert.NoError(t, err)
	_, pubs, _ := f.reg.Directory().Counts()
	assert.Equal(t, 1, pubs)
}

func TestUnregisterNode_BroadcastsToEveryOtherNode(t *testing.T) {
	f := newRegistry(t)
	f.node(t, "a", "b", "c")
	f.pub(t, "b", "p1", "nav", api.TCP, 1)
	f.sub(t, "b", "s1", "imu", api.UDP, 2)
	f.journal.Reset()

	require.NoError(t, f.reg.UnregisterNode(context.Background(), "b"))
	assert.Equal(t, []string{
		"a.kill_subscriber_connection(p1)",
		"c.kill_subscriber_connection(p1)",
		"b.kill_publisher(p1)",
		"a.kill_publisher_connection(s1)",
		"c.kill_publisher_connection(s1)",
		"b.kill_subscriber(s1)",
	}, f.journal.Strings())
	assert.False(t, f.reg.Directory().Has("b"))
	assert.True(t, f.controls["b"].Closed())
}

func TestUnregisterNode_Unknown(t *testing.T) {
	f := newRegistry(t)
	assert.ErrorIs(t, f.reg.UnregisterNode(context.Background(), "ghost"), api.ErrUnknownNode)
}

func TestUnregisterNode_ThenReRegisterIsFresh(t *testing.T) {
	f := newRegistry(t)
	f.node(t, "a")
	f.pub(t, "a", "p1", "nav", api.TCP, 1)
	first := f.reg.ListNodes()[0].Session
	require.NoError(t, f.reg.UnregisterNode(context.Background(), "a"))

	f.node(t, "a")
	nodes := f.reg.ListNodes()
	require.Len(t, nodes, 1)
	assert.NotEqual(t, first, nodes[0].Session)
	assert.Empty(t, nodes[0].Publishers)
	assert.Equal(t, 2, f.dials)
}

func TestUnregisterAllNodes(t *testing.T) {
	f := newRegistry(t)
	f.node(t, "A", "B", "C")
	f.pub(t, "A", "p", "chatter", api.TCP, 1)
	f.sub(t, "B", "s", "chatter", api.TCP, 2)
	f.journal.Reset()

	require.NoError(t, f.reg.UnregisterAllNodes(context.Background()))
	assert.Empty(t, f.reg.ListNodes())

	assert.Contains(t, f.journal.Strings(), "B.kill_subscriber_connection(p)")
	assert.Contains(t, f.journal.Strings(), "A.kill_publisher(p)")
	assert.Contains(t, f.journal.Strings(), "B.kill_subscriber(s)")
	assert.Contains(t, f.journal.Strings(), "C.kill_publisher_connection(s)")
}

// Re-registering a publisher id with another topic overwrites it, matches on
// the new topic only and leaves the old connection in place.
func TestRegisterPublisher_SameIDOverwrites(t *testing.T) {
	f := newRegistry(t)
	f.node(t, "a", "b")
	f.sub(t, "b", "s-old", "old", api.TCP, 2)
	f.sub(t, "b", "s-new", "new", api.TCP, 3)
	f.pub(t, "a", "p", "old", api.TCP, 1)
	f.journal.Reset()

	f.pub(t, "a", "p", "new", api.TCP, 1)
	assert.Equal(t, []string{
		"a.update_publisher(p, s-new, 10.0.0.2:3)",
		"b.update_subscriber(s-new, p, 10.0.0.1:1)",
	}, f.journal.Strings())

	nodes := f.reg.ListNodes()
	require.Len(t, nodes[0].Publishers, 1)
	assert.Equal(t, "new", nodes[0].Publishers[0].Topic)
}

func TestListNodes(t *testing.T) {
	f := newRegistry(t)
	f.node(t, "talker", "listener")
	f.pub(t, "talker", "p1", "chatter", api.TCP, 9000)
	f.sub(t, "listener", "s1", "chatter", api.TCP, 9100)

	nodes := f.reg.ListNodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "talker", nodes[0].Name)
	assert.Equal(t, 1000, nodes[0].PID)
	assert.Equal(t, "127.0.0.1", nodes[0].ControlIP)
	assert.Equal(t, 7000, nodes[0].ControlPort)
	assert.NotEmpty(t, nodes[0].Session)
	assert.Equal(t, api.EndpointID("p1"), nodes[0].Publishers[0].ID)
	assert.Empty(t, nodes[0].Subscribers)
	assert.Equal(t, "listener", nodes[1].Name)
	assert.Len(t, nodes[1].Subscribers, 1)
}

func TestRegistry_ConcurrentRegistrations(t *testing.T) {
	f := newRegistry(t)
	names := []string{"n0", "n1", "n2", "n3", "n4", "n5", "n6", "n7"}
	errs := make(chan error, len(names))
	for _, n := range names {
		n := n
		go func() {
			if err := f.reg.RegisterNode(context.Background(), api.NodeInfo{Name: n}); err != nil {
				errs <- err
				return
			}
			errs <- f.reg.RegisterSubscriber(context.Background(), n, api.Endpoint{ID: "s", Topic: "t", Protocol: api.TCP})
		}()
	}
	for range names {
		require.NoError(t, <-errs)
	}
	nodes, _, subs := f.reg.Directory().Counts()
	assert.Equal(t, len(names), nodes)
	assert.Equal(t, len(names), subs)
}
