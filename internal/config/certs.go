package config

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
	log "github.com/sirupsen/logrus"
)

// GenerateCertificates writes a self-signed certificate, its key and a CA
// file for dtls.certs.mode=files. It does nothing when all three files
// already exist. cfg must not be nil.
func GenerateCertificates(cfg *Config) error {
	c := &cfg.Server.DTLS.Certs
	certPath := filepath.Join(c.Path, c.Cert)
	keyPath := filepath.Join(c.Path, c.Key)
	caPath := filepath.Join(c.Path, c.CA)

	if fileExists(certPath) && fileExists(keyPath) && (c.CA == "" || fileExists(caPath)) {
		return nil
	}
	if c.Path != "" {
		if err := os.MkdirAll(c.Path, 0o755); err != nil {
			return fmt.Errorf("create cert dir: %w", err)
		}
	}

	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	cert, err := selfsign.GenerateSelfSignedWithDNS(host, host)
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return fmt.Errorf("write cert: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	// os.WriteFile keeps the mode of an existing file.
	if err := os.Chmod(keyPath, 0o600); err != nil {
		return fmt.Errorf("chmod key: %w", err)
	}
	if c.CA != "" {
		// The certificate is self-signed, so it is its own trust anchor.
		if err := os.WriteFile(caPath, certPEM, 0o644); err != nil {
			return fmt.Errorf("write ca: %w", err)
		}
	}
	log.WithField("caller", "config").Infof("Generated DTLS certificate for %s in %s", host, c.Path)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
