// Package dtls builds pion DTLS configurations for both ends of a connection:
// the listening side (registry, parameter store, node control endpoints) and
// the dialing side (broker calling nodes, nodes calling the broker).
package dtls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/auraspeak/broker/internal/config"
	"github.com/pion/dtls/v3"
	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
)

var (
	cipherSuiteMap = map[string]dtls.CipherSuiteID{
		"TLS_ECDHE_ECDSA_WITH_AES_128_CCM":        dtls.TLS_ECDHE_ECDSA_WITH_AES_128_CCM,
		"TLS_ECDHE_ECDSA_WITH_AES_128_CCM_8":      dtls.TLS_ECDHE_ECDSA_WITH_AES_128_CCM_8,
		"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256": dtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256":   dtls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384": dtls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384":   dtls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		"TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA":    dtls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
		"TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA":      dtls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	}

	clientAuthMap = map[string]dtls.ClientAuthType{
		"no_client_cert":                 dtls.NoClientCert,
		"request_client_cert":            dtls.RequestClientCert,
		"require_any_client_cert":        dtls.RequireAnyClientCert,
		"verify_client_cert_if_given":    dtls.VerifyClientCertIfGiven,
		"require_and_verify_client_cert": dtls.RequireAndVerifyClientCert,
	}

	extendedMasterSecretMap = map[string]dtls.ExtendedMasterSecretType{
		"request": dtls.RequestExtendedMasterSecret,
		"require": dtls.RequireExtendedMasterSecret,
		"disable": dtls.DisableExtendedMasterSecret,
	}
)

const (
	modeSelfSigned = "self_signed"
	modeFiles      = "files"
)

// Mode resolves dtls.certs.mode. Empty means self_signed in dev and files otherwise.
func Mode(cfg *config.Config) string {
	if m := cfg.Server.DTLS.Certs.Mode; m != "" {
		return m
	}
	if cfg.Server.Env == "dev" {
		return modeSelfSigned
	}
	return modeFiles
}

// NewDTLSConfig builds the listening side configuration.
// cfg must not be nil.
func NewDTLSConfig(cfg *config.Config) (*dtls.Config, error) {
	d := &cfg.Server.DTLS
	mode := Mode(cfg)
	clientAuth := resolveClientAuth(d.Security.ClientAuth)

	var cert tls.Certificate
	var clientCAs *x509.CertPool
	var err error
	switch mode {
	case modeSelfSigned:
		if clientAuth != dtls.NoClientCert {
			return nil, errors.New("dtls.certs: in self_signed mode client_auth must be no_client_cert; use mode=files with ca for client verification")
		}
		cert, err = selfsign.GenerateSelfSigned()
		if err != nil {
			return nil, fmt.Errorf("dtls.certs: self_signed: %w", err)
		}
	case modeFiles:
		cert, err = loadKeyPair(cfg)
		if err != nil {
			return nil, err
		}
		if clientAuth != dtls.NoClientCert {
			if d.Certs.CA == "" {
				return nil, fmt.Errorf("dtls.certs: client_auth %q requires ca", d.Security.ClientAuth)
			}
			if clientCAs, err = loadCAPool(cfg); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("dtls.certs: unknown mode %q", mode)
	}

	out, err := baseConfig(cfg)
	if err != nil {
		return nil, err
	}
	out.Certificates = []tls.Certificate{cert}
	out.ClientAuth = clientAuth
	out.ClientCAs = clientCAs
	out.InsecureSkipVerifyHello = d.Tuning.InsecureSkipVerifyHello
	return out, nil
}

// NewClientConfig builds the dialing side configuration. In files mode with
// a CA the peer certificate is verified against it for serverName; otherwise
// peers are expected to present self-signed certificates and verification is
// skipped. The keypair is presented when the listening side asks for one.
func NewClientConfig(cfg *config.Config, serverName string) (*dtls.Config, error) {
	d := &cfg.Server.DTLS
	out, err := baseConfig(cfg)
	if err != nil {
		return nil, err
	}

	switch mode := Mode(cfg); mode {
	case modeSelfSigned:
		out.InsecureSkipVerify = true
	case modeFiles:
		cert, err := loadKeyPair(cfg)
		if err != nil {
			return nil, err
		}
		out.Certificates = []tls.Certificate{cert}
		if d.Certs.CA == "" {
			out.InsecureSkipVerify = true
			break
		}
		pool, err := loadCAPool(cfg)
		if err != nil {
			return nil, err
		}
		out.RootCAs = pool
		out.ServerName = serverName
	default:
		return nil, fmt.Errorf("dtls.certs: unknown mode %q", mode)
	}
	return out, nil
}

func baseConfig(cfg *config.Config) (*dtls.Config, error) {
	d := &cfg.Server.DTLS
	cipherSuites, err := resolveCipherSuites(d.Security.CipherSuites)
	if err != nil {
		return nil, err
	}

	mtu := d.Tuning.MTU
	if mtu <= 0 {
		mtu = 1200
	}
	rpw := d.Tuning.ReplayProtectionWindow
	if rpw <= 0 {
		rpw = 64
	}

	out := &dtls.Config{
		CipherSuites:           cipherSuites,
		ExtendedMasterSecret:   resolveExtendedMasterSecret(d.Security.ExtendedMasterSecret),
		MTU:                    mtu,
		ReplayProtectionWindow: rpw,
	}
	if d.Tuning.FlightInterval != "" {
		fi, err := time.ParseDuration(d.Tuning.FlightInterval)
		if err != nil {
			return nil, fmt.Errorf("dtls.tuning: invalid flight_interval %q: %w", d.Tuning.FlightInterval, err)
		}
		if fi > 0 {
			out.FlightInterval = fi
		}
	}
	return out, nil
}

func loadKeyPair(cfg *config.Config) (tls.Certificate, error) {
	c := &cfg.Server.DTLS.Certs
	if c.Path == "" || c.Cert == "" || c.Key == "" {
		return tls.Certificate{}, errors.New("dtls.certs: mode=files requires path, cert and key")
	}
	cert, err := tls.LoadX509KeyPair(filepath.Join(c.Path, c.Cert), filepath.Join(c.Path, c.Key))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("dtls.certs: load keypair: %w", err)
	}
	return cert, nil
}

func loadCAPool(cfg *config.Config) (*x509.CertPool, error) {
	c := &cfg.Server.DTLS.Certs
	pem, err := os.ReadFile(filepath.Join(c.Path, c.CA))
	if err != nil {
		return nil, fmt.Errorf("dtls.certs: read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("dtls.certs: failed to append ca")
	}
	return pool, nil
}

func resolveClientAuth(s string) dtls.ClientAuthType {
	if v, ok := clientAuthMap[s]; ok {
		return v
	}
	return dtls.NoClientCert
}

func resolveCipherSuites(ids []string) ([]dtls.CipherSuiteID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]dtls.CipherSuiteID, 0, len(ids))
	for _, id := range ids {
		v, ok := cipherSuiteMap[id]
		if !ok {
			return nil, fmt.Errorf("dtls.security: unknown cipher_suite %q", id)
		}
		out = append(out, v)
	}
	return out, nil
}

func resolveExtendedMasterSecret(s string) dtls.ExtendedMasterSecretType {
	if v, ok := extendedMasterSecretMap[s]; ok {
		return v
	}
	return dtls.RequestExtendedMasterSecret
}
