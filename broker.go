package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/auraspeak/broker/internal/config"
	"github.com/auraspeak/broker/internal/metrics"
	"github.com/auraspeak/broker/internal/paramstore"
	"github.com/auraspeak/broker/pkg/tracer"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	metricsReadHeaderTimeout = 5 * time.Second
	// shutdownTimeout bounds the node teardown when Run ends without an
	// explicit Shutdown.
	shutdownTimeout = 30 * time.Second
)

// Broker runs the registry server, the parameter store and the metrics
// endpoint together.
type Broker struct {
	Registry *Registry

	core   *Server
	params *Server
	store  *paramstore.Store
	http   *http.Server

	ctx      context.Context
	stopped  chan struct{}
	stopOnce sync.Once
	downOnce sync.Once
}

// New builds a Broker from cfg. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config) (*Broker, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	timeout, err := cfg.CallTimeout()
	if err != nil {
		return nil, err
	}

	b := &Broker{
		Registry: NewRegistry(ProxyDialer(cfg), timeout),
		ctx:      ctx,
		stopped:  make(chan struct{}),
	}

	b.core, err = NewServer("broker", cfg.Server.Host, cfg.CorePort(), ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.Registry.Routes(b.core)

	if !cfg.ParamServer.Disabled {
		b.store, err = paramstore.Open(cfg.ParamServer.DataDir)
		if err != nil {
			return nil, err
		}
		b.params, err = NewServer("param_server", cfg.Server.Host, cfg.ParamPort(), ctx, cfg)
		if err != nil {
			_ = b.store.Close()
			return nil, err
		}
		paramstore.Routes(b.params, b.store)
	}

	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		b.http = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: metricsReadHeaderTimeout,
		}
	}
	return b, nil
}

func (b *Broker) logger() *log.Entry {
	return log.WithField("caller", "broker")
}

// Run serves until Shutdown is called, the context ends or one of the
// servers fails. Every way out goes through Shutdown, so registered nodes
// are always torn down before Run returns.
func (b *Broker) Run() error {
	g, gctx := errgroup.WithContext(b.ctx)

	g.Go(b.core.Run)
	if b.params != nil {
		g.Go(b.params.Run)
	}
	if b.http != nil {
		g.Go(func() error {
			b.logger().Infof("Metrics on %s/metrics", b.http.Addr)
			if err := b.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}
	if debug {
		go b.logTraces()
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			b.logger().Info("Context done or a server failed, shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = b.Shutdown(ctx)
		case <-b.stopped:
		}
		return nil
	})
	return g.Wait()
}

// Ready is closed once the registry server and the parameter store listen.
func (b *Broker) Ready() <-chan struct{} {
	ready := make(chan struct{})
	go func() {
		defer close(ready)
		select {
		case <-b.core.Ready():
		case <-b.stopped:
			return
		}
		if b.params != nil {
			select {
			case <-b.params.Ready():
			case <-b.stopped:
			}
		}
	}()
	return ready
}

// Addr returns the registry server address, nil before Ready.
func (b *Broker) Addr() net.Addr {
	return b.core.Addr()
}

// ParamAddr returns the parameter store address, nil when it is disabled or
// before Ready.
func (b *Broker) ParamAddr() net.Addr {
	if b.params == nil {
		return nil
	}
	return b.params.Addr()
}

// Server returns the registry server.
func (b *Broker) Server() *Server {
	return b.core
}

// Shutdown unregisters every node, then stops the servers and closes the
// parameter store. It runs once; later calls return nil.
func (b *Broker) Shutdown(ctx context.Context) error {
	var err error
	b.downOnce.Do(func() {
		b.logger().Info("Shutting down, unregistering all nodes")
		err = b.Registry.UnregisterAllNodes(ctx)
		if err != nil {
			b.logger().WithError(err).Warn("Some nodes could not be torn down cleanly")
		}
		close(b.stopped)
		b.stop(ctx)
	})
	return err
}

func (b *Broker) stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		b.core.Stop()
		if b.params != nil {
			b.params.Stop()
		}
		if b.http != nil {
			if err := b.http.Shutdown(ctx); err != nil {
				b.logger().WithError(err).Warn("Metrics server shutdown")
			}
		}
		if b.store != nil {
			if err := b.store.Close(); err != nil {
				b.logger().WithError(err).Error("Closing parameter store")
			}
		}
		b.logger().Info("Broker stopped")
	})
}

func (b *Broker) logTraces() {
	for {
		select {
		case ev := <-b.core.TraceCh:
			logTrace(ev)
		case <-b.stopped:
			return
		case <-b.ctx.Done():
			return
		}
	}
}

func logTrace(ev tracer.TraceEvent) {
	log.WithField("caller", "trace").Debugf("%s %s %s->%s seq=%d len=%d", ev.Dir, ev.Type, ev.Local, ev.Remote, ev.Seq, ev.Len)
}
