// Package clientcfg lets node programs and tools outside this module read the
// broker configuration and reach the broker with it.
//
// It exists because the configuration and DTLS packages are internal.
package clientcfg

import (
	"context"
	"net"
	"strconv"

	"github.com/auraspeak/broker/internal/config"
	mdtls "github.com/auraspeak/broker/internal/dtls"
	"github.com/auraspeak/broker/pkg/nodeclient"
	"github.com/pion/dtls/v3"
)

// Config is the broker configuration.
type Config = config.Config

// Load reads the configuration at path, or the default path when empty.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	return config.Load(path)
}

// Default returns the default configuration.
func Default() *Config {
	return config.Default()
}

// DTLS returns the client side DTLS configuration for reaching host.
func DTLS(cfg *Config, host string) (*dtls.Config, error) {
	return mdtls.NewClientConfig(cfg, host)
}

// BrokerAddress returns where the registry server can be reached. A wildcard
// bind address is reached through loopback.
func BrokerAddress(cfg *Config) string {
	return net.JoinHostPort(dialHost(cfg.Server.Host), strconv.Itoa(cfg.CorePort()))
}

// ParamAddress returns where the parameter store can be reached.
func ParamAddress(cfg *Config) string {
	return net.JoinHostPort(dialHost(cfg.Server.Host), strconv.Itoa(cfg.ParamPort()))
}

// DialBroker connects a registration client to the broker described by cfg.
func DialBroker(ctx context.Context, cfg *Config) (*nodeclient.Client, error) {
	addr := BrokerAddress(cfg)
	dtlsCfg, err := DTLS(cfg, dialHost(cfg.Server.Host))
	if err != nil {
		return nil, err
	}
	return nodeclient.Dial(ctx, addr, dtlsCfg)
}

// DialParams connects a parameter client to the store described by cfg.
func DialParams(ctx context.Context, cfg *Config) (*nodeclient.Params, error) {
	addr := ParamAddress(cfg)
	dtlsCfg, err := DTLS(cfg, dialHost(cfg.Server.Host))
	if err != nil {
		return nil, err
	}
	return nodeclient.DialParams(ctx, addr, dtlsCfg)
}

func dialHost(host string) string {
	switch host {
	case "", "0.0.0.0", "::":
		return "127.0.0.1"
	}
	return host
}
