// Package nodecall runs a single call against a node's control endpoint with
// a bounded timeout, logging and metrics.
package nodecall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/auraspeak/broker/internal/metrics"
	"github.com/auraspeak/broker/pkg/api"
	log "github.com/sirupsen/logrus"
)

// Control operation names, used in logs and as metric labels.
const (
	OpUpdatePublisher          = "update_publisher"
	OpUpdateSubscriber         = "update_subscriber"
	OpKillPublisher            = "kill_publisher"
	OpKillSubscriber           = "kill_subscriber"
	OpKillPublisherConnection  = "kill_publisher_connection"
	OpKillSubscriberConnection = "kill_subscriber_connection"
)

// Invoke calls fn with a context bounded by timeout (no bound when timeout is
// zero). A failure is logged and returned wrapped in api.ErrPeerUnreachable.
func Invoke(ctx context.Context, timeout time.Duration, node, op string, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	entry := log.WithField("caller", "nodecall").WithFields(log.Fields{"node": node, "op": op})
	err := fn(ctx)
	metrics.ObserveCall(op, err)
	if err == nil {
		entry.Debug("Control call done")
		return nil
	}

	entry.WithError(err).Warn("Control call failed")
	if errors.Is(err, api.ErrPeerUnreachable) {
		return fmt.Errorf("node %q %s: %w", node, op, err)
	}
	return fmt.Errorf("%w: node %q %s: %w", api.ErrPeerUnreachable, node, op, err)
}
