// Package matcher connects publishers and subscribers that share a topic and
// a protocol.
package matcher

import (
	"context"
	"errors"
	"time"

	"github.com/auraspeak/broker/internal/directory"
	"github.com/auraspeak/broker/internal/metrics"
	"github.com/auraspeak/broker/internal/nodecall"
	"github.com/auraspeak/broker/pkg/api"
	log "github.com/sirupsen/logrus"
)

// Matcher scans the Directory for counterparts of a newly registered
// endpoint and tells both owning nodes to connect. Every node is scanned,
// including the one that owns the new endpoint.
type Matcher struct {
	dir     *directory.Directory
	timeout time.Duration
}

// New returns a Matcher bounding each control call by timeout.
func New(dir *directory.Directory, timeout time.Duration) *Matcher {
	return &Matcher{dir: dir, timeout: timeout}
}

func (m *Matcher) logger() *log.Entry {
	return log.WithField("caller", "matcher")
}

// OnNewPublisher connects the publisher to every matching subscriber. Failed
// calls do not stop the scan; they are joined into the returned error.
func (m *Matcher) OnNewPublisher(ctx context.Context, nodeName string, pubID api.EndpointID) error {
	pub, err := m.dir.Publisher(nodeName, pubID)
	if err != nil {
		return err
	}
	var errs []error
	for _, sub := range m.dir.Subscribers() {
		if pub.Endpoint.Matches(sub.Endpoint) {
			errs = append(errs, m.connect(ctx, pub, sub))
		}
	}
	return errors.Join(errs...)
}

// OnNewSubscriber connects the subscriber to every matching publisher.
func (m *Matcher) OnNewSubscriber(ctx context.Context, nodeName string, subID api.EndpointID) error {
	sub, err := m.dir.Subscriber(nodeName, subID)
	if err != nil {
		return err
	}
	var errs []error
	for _, pub := range m.dir.Publishers() {
		if pub.Endpoint.Matches(sub.Endpoint) {
			errs = append(errs, m.connect(ctx, pub, sub))
		}
	}
	return errors.Join(errs...)
}

// connect pushes the pair to the publisher side first, then the subscriber side.
func (m *Matcher) connect(ctx context.Context, pub, sub directory.Owned) error {
	p, s := pub.Endpoint, sub.Endpoint
	m.logger().WithFields(log.Fields{
		"topic":      p.Topic,
		"protocol":   p.Protocol,
		"publisher":  pub.Node + "/" + string(p.ID),
		"subscriber": sub.Node + "/" + string(s.ID),
	}).Info("Matched publisher and subscriber")
	metrics.Matches.Inc()

	pubErr := nodecall.Invoke(ctx, m.timeout, pub.Node, nodecall.OpUpdatePublisher, func(ctx context.Context) error {
		return pub.Control.UpdatePublisher(ctx, p.ID, s.ID, s.IP, s.Port)
	})
	subErr := nodecall.Invoke(ctx, m.timeout, sub.Node, nodecall.OpUpdateSubscriber, func(ctx context.Context) error {
		return sub.Control.UpdateSubscriber(ctx, s.ID, p.ID, p.IP, p.Port)
	})
	return errors.Join(pubErr, subErr)
}
