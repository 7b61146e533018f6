// Package directory keeps the in-memory record of registered nodes and the
// publishers and subscribers each node owns. Iteration always follows
// registration order.
package directory

import (
	"fmt"
	"sync"
	"time"

	"github.com/auraspeak/broker/pkg/api"
	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type endpoints = orderedmap.OrderedMap[api.EndpointID, api.Endpoint]

type node struct {
	info         api.NodeInfo
	session      uuid.UUID
	registeredAt time.Time
	control      api.NodeControl
	publishers   *endpoints
	subscribers  *endpoints
}

// Owned is an endpoint together with the node that owns it and that node's
// control handle.
type Owned struct {
	Node     string
	Endpoint api.Endpoint
	Control  api.NodeControl
}

// Peer is a registered node's control handle.
type Peer struct {
	Node    string
	Control api.NodeControl
}

// Record is a point-in-time copy of one node's registration.
type Record struct {
	Info         api.NodeInfo
	Session      uuid.UUID
	RegisteredAt time.Time
	Publishers   []api.Endpoint
	Subscribers  []api.Endpoint
}

// Directory maps node names to their registration. Every registered node has
// exactly one control handle, stored with it and removed with it.
type Directory struct {
	mu    sync.RWMutex
	nodes *orderedmap.OrderedMap[string, *node]
	now   func() time.Time
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{
		nodes: orderedmap.New[string, *node](),
		now:   time.Now,
	}
}

// AddNode registers a node with its control handle. It fails with
// api.ErrDuplicateName when the name is taken; the existing record is kept.
func (d *Directory) AddNode(info api.NodeInfo, control api.NodeControl) (uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.nodes.Get(info.Name); ok {
		return uuid.Nil, fmt.Errorf("%w: %q", api.ErrDuplicateName, info.Name)
	}
	n := &node{
		info:         info,
		session:      uuid.New(),
		registeredAt: d.now(),
		control:      control,
		publishers:   orderedmap.New[api.EndpointID, api.Endpoint](),
		subscribers:  orderedmap.New[api.EndpointID, api.Endpoint](),
	}
	d.nodes.Set(info.Name, n)
	return n.session, nil
}

// RemoveNode drops the node and returns its control handle so the caller can
// release it.
func (d *Directory) RemoveNode(name string) (api.NodeControl, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes.Delete(name)
	if !ok {
		return nil, unknownNode(name)
	}
	return n.control, nil
}

// Has reports whether name is registered.
func (d *Directory) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.nodes.Get(name)
	return ok
}

// Len returns the number of registered nodes.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nodes.Len()
}

// Names returns the registered node names.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, d.nodes.Len())
	for p := d.nodes.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key)
	}
	return out
}

// Control returns the control handle of a node.
func (d *Directory) Control(name string) (api.NodeControl, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes.Get(name)
	if !ok {
		return nil, unknownNode(name)
	}
	return n.control, nil
}

// Peers returns the control handles of every node except exclude.
func (d *Directory) Peers(exclude string) []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, 0, d.nodes.Len())
	for p := d.nodes.Oldest(); p != nil; p = p.Next() {
		if p.Key == exclude {
			continue
		}
		out = append(out, Peer{Node: p.Key, Control: p.Value.control})
	}
	return out
}

// AddPublisher stores a publisher on its node. A publisher with the same id
// on the same node is overwritten.
func (d *Directory) AddPublisher(nodeName string, pub api.Endpoint) error {
	return d.addEndpoint(nodeName, pub, func(n *node) *endpoints { return n.publishers })
}

// AddSubscriber stores a subscriber on its node. A subscriber with the same
// id on the same node is overwritten.
func (d *Directory) AddSubscriber(nodeName string, sub api.Endpoint) error {
	return d.addEndpoint(nodeName, sub, func(n *node) *endpoints { return n.subscribers })
}

func (d *Directory) addEndpoint(nodeName string, ep api.Endpoint, set func(*node) *endpoints) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes.Get(nodeName)
	if !ok {
		return unknownNode(nodeName)
	}
	set(n).Set(ep.ID, ep)
	return nil
}

// Publisher looks up one publisher.
func (d *Directory) Publisher(nodeName string, id api.EndpointID) (Owned, error) {
	return d.endpoint(nodeName, id, "publisher", func(n *node) *endpoints { return n.publishers })
}

// Subscriber looks up one subscriber.
func (d *Directory) Subscriber(nodeName string, id api.EndpointID) (Owned, error) {
	return d.endpoint(nodeName, id, "subscriber", func(n *node) *endpoints { return n.subscribers })
}

func (d *Directory) endpoint(nodeName string, id api.EndpointID, kind string, get func(*node) *endpoints) (Owned, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes.Get(nodeName)
	if !ok {
		return Owned{}, unknownNode(nodeName)
	}
	ep, ok := get(n).Get(id)
	if !ok {
		return Owned{}, fmt.Errorf("%w: %s %q on node %q", api.ErrUnknownEndpoint, kind, id, nodeName)
	}
	return Owned{Node: nodeName, Endpoint: ep, Control: n.control}, nil
}

// Publishers returns every (node, publisher) pair.
func (d *Directory) Publishers() []Owned {
	return d.all(func(n *node) *endpoints { return n.publishers })
}

// Subscribers returns every (node, subscriber) pair.
func (d *Directory) Subscribers() []Owned {
	return d.all(func(n *node) *endpoints { return n.subscribers })
}

func (d *Directory) all(get func(*node) *endpoints) []Owned {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Owned
	for p := d.nodes.Oldest(); p != nil; p = p.Next() {
		for e := get(p.Value).Oldest(); e != nil; e = e.Next() {
			out = append(out, Owned{Node: p.Key, Endpoint: e.Value, Control: p.Value.control})
		}
	}
	return out
}

// Lookup returns a copy of one node's registration.
func (d *Directory) Lookup(name string) (Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes.Get(name)
	if !ok {
		return Record{}, unknownNode(name)
	}
	return n.record(), nil
}

// Snapshot returns a copy of every registration.
func (d *Directory) Snapshot() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Record, 0, d.nodes.Len())
	for p := d.nodes.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value.record())
	}
	return out
}

// Counts returns the number of nodes, publishers and subscribers.
func (d *Directory) Counts() (nodes, publishers, subscribers int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for p := d.nodes.Oldest(); p != nil; p = p.Next() {
		publishers += p.Value.publishers.Len()
		subscribers += p.Value.subscribers.Len()
	}
	return d.nodes.Len(), publishers, subscribers
}

func (n *node) record() Record {
	return Record{
		Info:         n.info,
		Session:      n.session,
		RegisteredAt: n.registeredAt,
		Publishers:   values(n.publishers),
		Subscribers:  values(n.subscribers),
	}
}

func values(m *endpoints) []api.Endpoint {
	out := make([]api.Endpoint, 0, m.Len())
	for p := m.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

func unknownNode(name string) error {
	return fmt.Errorf("%w: %q", api.ErrUnknownNode, name)
}
