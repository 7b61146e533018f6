// Package lifecycle removes nodes from the registry, tearing down every
// connection that may reach their publishers and subscribers first.
package lifecycle

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/auraspeak/broker/internal/directory"
	"github.com/auraspeak/broker/internal/nodecall"
	log "github.com/sirupsen/logrus"
)

// Manager runs the cascading teardown of a node.
type Manager struct {
	dir     *directory.Directory
	timeout time.Duration
}

// New returns a Manager bounding each control call by timeout.
func New(dir *directory.Directory, timeout time.Duration) *Manager {
	return &Manager{dir: dir, timeout: timeout}
}

func (m *Manager) logger() *log.Entry {
	return log.WithField("caller", "lifecycle")
}

// UnregisterNode tears the node down and removes it.
//
// For each publisher the node owns, every other node is told to drop the
// connections fed by it, then the owner is told to kill it. Subscribers
// follow the same pattern. The node and its control handle are removed
// once every call has been attempted, whether or not the calls succeeded;
// failures are joined into the returned error.
func (m *Manager) UnregisterNode(ctx context.Context, name string) error {
	rec, err := m.dir.Lookup(name)
	if err != nil {
		return err
	}
	owner, err := m.dir.Control(name)
	if err != nil {
		return err
	}
	entry := m.logger().WithField("node", name)
	entry.WithFields(log.Fields{
		"publishers":  len(rec.Publishers),
		"subscribers": len(rec.Subscribers),
	}).Info("Unregistering node")

	var errs []error
	for _, pub := range rec.Publishers {
		id := pub.ID
		for _, peer := range m.dir.Peers(name) {
			errs = append(errs, m.call(ctx, peer.Node, nodecall.OpKillSubscriberConnection, func(ctx context.Context) error {
				return peer.Control.KillSubscriberConnection(ctx, id)
			}))
		}
		errs = append(errs, m.call(ctx, name, nodecall.OpKillPublisher, func(ctx context.Context) error {
			return owner.KillPublisher(ctx, id)
		}))
	}
	for _, sub := range rec.Subscribers {
		id := sub.ID
		for _, peer := range m.dir.Peers(name) {
			errs = append(errs, m.call(ctx, peer.Node, nodecall.OpKillPublisherConnection, func(ctx context.Context) error {
				return peer.Control.KillPublisherConnection(ctx, id)
			}))
		}
		errs = append(errs, m.call(ctx, name, nodecall.OpKillSubscriber, func(ctx context.Context) error {
			return owner.KillSubscriber(ctx, id)
		}))
	}

	ctl, err := m.dir.RemoveNode(name)
	if err != nil {
		errs = append(errs, err)
	}
	if c, ok := ctl.(io.Closer); ok {
		if err := c.Close(); err != nil {
			entry.WithError(err).Debug("Closing control handle")
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		entry.WithError(err).Warn("Node removed, some teardown calls failed")
	} else {
		entry.Info("Node removed")
	}
	return err
}

// UnregisterAllNodes unregisters every node registered when it is called.
func (m *Manager) UnregisterAllNodes(ctx context.Context) error {
	names := m.dir.Names()
	var errs []error
	for _, name := range names {
		if !m.dir.Has(name) {
			continue
		}
		errs = append(errs, m.UnregisterNode(ctx, name))
	}
	return errors.Join(errs...)
}

func (m *Manager) call(ctx context.Context, node, op string, fn func(context.Context) error) error {
	return nodecall.Invoke(ctx, m.timeout, node, op, fn)
}
