package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/auraspeak/broker/internal/config"
	"github.com/auraspeak/broker/internal/directory"
	"github.com/auraspeak/broker/internal/lifecycle"
	"github.com/auraspeak/broker/internal/matcher"
	"github.com/auraspeak/broker/internal/metrics"
	"github.com/auraspeak/broker/internal/nodeproxy"
	"github.com/auraspeak/broker/pkg/api"
	"github.com/auraspeak/broker/pkg/protocol"
	log "github.com/sirupsen/logrus"
)

// ControlDialer builds the control handle for a node that is registering.
type ControlDialer func(info api.NodeInfo) (api.NodeControl, error)

// ProxyDialer returns a ControlDialer reaching nodes over DTLS with the client
// side of cfg. Connections are opened on the first call to a node.
func ProxyDialer(cfg *config.Config) ControlDialer {
	dial := nodeproxy.NewDialer(cfg)
	return func(info api.NodeInfo) (api.NodeControl, error) {
		return nodeproxy.New(info, dial), nil
	}
}

// Registry is the broker's registration service. Every operation holds one
// mutex for its whole duration, control calls included, so the directory
// sees a single writer. A control handler that calls back into the registry
// blocks until the broker's call to it times out.
type Registry struct {
	mu        sync.Mutex
	dir       *directory.Directory
	matcher   *matcher.Matcher
	lifecycle *lifecycle.Manager
	dial      ControlDialer
}

var _ api.RegistrationService = (*Registry)(nil)

// NewRegistry returns an empty Registry. callTimeout bounds every call to a
// node's control endpoint.
func NewRegistry(dial ControlDialer, callTimeout time.Duration) *Registry {
	dir := directory.New()
	return &Registry{
		dir:       dir,
		matcher:   matcher.New(dir, callTimeout),
		lifecycle: lifecycle.New(dir, callTimeout),
		dial:      dial,
	}
}

func (r *Registry) logger() *log.Entry {
	return log.WithField("caller", "registry")
}

// Directory exposes the registry contents for read-only use.
func (r *Registry) Directory() *directory.Directory {
	return r.dir
}

// RegisterNode adds a node. A taken name fails with api.ErrDuplicateName and
// leaves the existing registration untouched.
func (r *Registry) RegisterNode(_ context.Context, info api.NodeInfo) error {
	if strings.TrimSpace(info.Name) == "" {
		return fmt.Errorf("%w: empty node name", protocol.ErrBadRequest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.publishSizes()

	if r.dir.Has(info.Name) {
		return fmt.Errorf("%w: %q", api.ErrDuplicateName, info.Name)
	}
	ctl, err := r.dial(info)
	if err != nil {
		return fmt.Errorf("%w: node %q at %s: %w", api.ErrPeerUnreachable, info.Name, info.ControlAddress(), err)
	}
	session, err := r.dir.AddNode(info, ctl)
	if err != nil {
		return err
	}
	r.logger().WithFields(log.Fields{
		"node":    info.Name,
		"pid":     info.PID,
		"control": info.ControlAddress(),
		"session": session,
	}).Info("Node registered")
	return nil
}

// UnregisterNode tears the node down and removes it. The node is removed even
// when some teardown calls fail; those failures are returned.
func (r *Registry) UnregisterNode(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.publishSizes()
	return r.lifecycle.UnregisterNode(ctx, name)
}

// RegisterPublisher stores a publisher and connects it to every matching
// subscriber. Failed connect calls are logged and do not fail the call.
func (r *Registry) RegisterPublisher(ctx context.Context, nodeName string, pub api.Endpoint) error {
	return r.registerEndpoint(ctx, nodeName, pub, "publisher", r.dir.AddPublisher, r.matcher.OnNewPublisher)
}

// RegisterSubscriber stores a subscriber and connects it to every matching
// publisher.
func (r *Registry) RegisterSubscriber(ctx context.Context, nodeName string, sub api.Endpoint) error {
	return r.registerEndpoint(ctx, nodeName, sub, "subscriber", r.dir.AddSubscriber, r.matcher.OnNewSubscriber)
}

func (r *Registry) registerEndpoint(
	ctx context.Context,
	nodeName string,
	ep api.Endpoint,
	kind string,
	add func(string, api.Endpoint) error,
	match func(context.Context, string, api.EndpointID) error,
) error {
	proto, err := api.ParseProtocol(string(ep.Protocol))
	if err != nil {
		return err
	}
	ep.Protocol = proto
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.publishSizes()

	if err := add(nodeName, ep); err != nil {
		return err
	}
	entry := r.logger().WithFields(log.Fields{
		"node":     nodeName,
		"id":       ep.ID,
		"topic":    ep.Topic,
		"protocol": ep.Protocol,
	})
	entry.Infof("Registered %s", kind)
	if err := match(ctx, nodeName, ep.ID); err != nil {
		entry.WithError(err).Warnf("Some peers could not be told about the new %s", kind)
	}
	return nil
}

// UnregisterAllNodes unregisters every node. It is the broker's shutdown hook.
func (r *Registry) UnregisterAllNodes(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.publishSizes()
	return r.lifecycle.UnregisterAllNodes(ctx)
}

// ListNodes returns the current registrations in registration order.
func (r *Registry) ListNodes() []protocol.NodeSnapshot {
	records := r.dir.Snapshot()
	out := make([]protocol.NodeSnapshot, 0, len(records))
	for _, rec := range records {
		out = append(out, protocol.NodeSnapshot{
			Name:        rec.Info.Name,
			PID:         rec.Info.PID,
			ControlIP:   rec.Info.ControlIP,
			ControlPort: rec.Info.ControlPort,
			Session:     rec.Session.String(),
			Publishers:  rec.Publishers,
			Subscribers: rec.Subscribers,
		})
	}
	return out
}

func (r *Registry) publishSizes() {
	metrics.SetRegistry(r.dir.Counts())
}
