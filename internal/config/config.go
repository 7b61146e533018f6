// Package config defines the broker configuration structure.
package config

import (
	"fmt"
	"strconv"
	"time"
)

const (
	// DefaultPath is where Load looks when no path is given.
	DefaultPath = "broker_config.yml"

	defaultCorePort    = 5959
	defaultParamPort   = 8000
	defaultCallTimeout = 5 * time.Second
	defaultConnBufSize = 8192
)

// Config represents the complete broker configuration loaded from YAML.
type Config struct {
	Server struct {
		Port string `yaml:"port,omitempty"`
		Host string `yaml:"host,omitempty"`
		Env  string `yaml:"env,omitempty"` // prod or dev; if nothing is set then prod
		DTLS struct {
			Certs struct {
				Mode string `yaml:"mode,omitempty"` // "self_signed" | "files"
				Path string `yaml:"path,omitempty"` // for mode=files
				Cert string `yaml:"cert,omitempty"`
				Key  string `yaml:"key,omitempty"`
				CA   string `yaml:"ca,omitempty"` // ClientCAs on the server side, RootCAs when dialing nodes
			} `yaml:"certs"`
			Security struct {
				ClientAuth           string   `yaml:"client_auth,omitempty"`            // no_client_cert | request_client_cert | require_any_client_cert | verify_client_cert_if_given | require_and_verify_client_cert
				CipherSuites         []string `yaml:"cipher_suites,omitempty"`          // optional, nil/empty = Pion default
				ExtendedMasterSecret string   `yaml:"extended_master_secret,omitempty"` // request | require | disable
			} `yaml:"security"`
			Tuning struct {
				MTU                     int    `yaml:"mtu,omitempty"`                        // default 1200
				ReplayProtectionWindow  int    `yaml:"replay_protection_window,omitempty"`   // default 64
				FlightInterval          string `yaml:"flight_interval,omitempty"`            // e.g., "1s", optional
				InsecureSkipVerifyHello bool   `yaml:"insecure_skip_verify_hello,omitempty"` // DoS risk, only for special cases
			} `yaml:"tuning"`
		} `yaml:"dtls"`
	} `yaml:"server"`

	ParamServer struct {
		Port     string `yaml:"port,omitempty"`
		DataDir  string `yaml:"data_dir,omitempty"` // empty = in-memory
		Disabled bool   `yaml:"disabled,omitempty"`
	} `yaml:"param_server"`

	Broker struct {
		CallTimeout string `yaml:"call_timeout,omitempty"` // bound for every call to a node, default 5s
		ConnBufSize uint   `yaml:"conn_buf_size,omitempty"`
	} `yaml:"broker"`

	Metrics struct {
		Address string `yaml:"address,omitempty"` // e.g. ":9090"; empty disables /metrics
	} `yaml:"metrics"`

	Log struct {
		Level string `yaml:"level,omitempty"` // logrus level name, default info
	} `yaml:"log"`
}

// Default returns a development configuration with every field set.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = strconv.Itoa(defaultCorePort)
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Env = "dev"

	cfg.Server.DTLS.Certs.Mode = "self_signed"
	cfg.Server.DTLS.Certs.Path = "certs/"
	cfg.Server.DTLS.Certs.Cert = "server.crt"
	cfg.Server.DTLS.Certs.Key = "server.key"
	cfg.Server.DTLS.Certs.CA = "ca.crt"

	cfg.Server.DTLS.Security.ClientAuth = "no_client_cert"
	cfg.Server.DTLS.Security.ExtendedMasterSecret = "request"

	cfg.Server.DTLS.Tuning.MTU = 1200
	cfg.Server.DTLS.Tuning.ReplayProtectionWindow = 64
	cfg.Server.DTLS.Tuning.InsecureSkipVerifyHello = false

	cfg.ParamServer.Port = strconv.Itoa(defaultParamPort)
	cfg.Broker.CallTimeout = defaultCallTimeout.String()
	cfg.Broker.ConnBufSize = defaultConnBufSize
	cfg.Log.Level = "info"
	return cfg
}

// ApplyDefaults fills the fields a hand-written file usually leaves out.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = strconv.Itoa(defaultCorePort)
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.ParamServer.Port == "" {
		c.ParamServer.Port = strconv.Itoa(defaultParamPort)
	}
	if c.Broker.CallTimeout == "" {
		c.Broker.CallTimeout = defaultCallTimeout.String()
	}
	if c.Broker.ConnBufSize == 0 {
		c.Broker.ConnBufSize = defaultConnBufSize
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the fields that cannot be repaired by defaults.
func (c *Config) Validate() error {
	if err := validateHost(c.Server.Host); err != nil {
		return fmt.Errorf("server.host: %w", err)
	}
	if err := validatePort(c.Server.Port); err != nil {
		return fmt.Errorf("server.port: %w", err)
	}
	if !c.ParamServer.Disabled {
		if err := validatePort(c.ParamServer.Port); err != nil {
			return fmt.Errorf("param_server.port: %w", err)
		}
		if c.ParamServer.Port == c.Server.Port {
			return fmt.Errorf("param_server.port: must differ from server.port %s", c.Server.Port)
		}
	}
	if _, err := c.CallTimeout(); err != nil {
		return err
	}
	return nil
}

// CorePort returns server.port as a number, 0 if it does not parse.
func (c *Config) CorePort() int {
	p, _ := strconv.Atoi(c.Server.Port)
	return p
}

// ParamPort returns param_server.port as a number, 0 if it does not parse.
func (c *Config) ParamPort() int {
	p, _ := strconv.Atoi(c.ParamServer.Port)
	return p
}

// CallTimeout returns broker.call_timeout, or the default when unset.
func (c *Config) CallTimeout() (time.Duration, error) {
	if c.Broker.CallTimeout == "" {
		return defaultCallTimeout, nil
	}
	d, err := time.ParseDuration(c.Broker.CallTimeout)
	if err != nil {
		return 0, fmt.Errorf("broker.call_timeout: invalid duration %q: %w", c.Broker.CallTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("broker.call_timeout: must be positive, got %s", d)
	}
	return d, nil
}
