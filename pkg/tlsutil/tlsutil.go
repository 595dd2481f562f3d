// Package tlsutil builds TLS configurations for outbound broker connections
// from file-based settings.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/thepwizard/unifiednamespace/errors"
)

// ClientConfig holds file-based TLS settings for a client connection.
type ClientConfig struct {
	// CAFile is an additional trusted CA appended to the system pool.
	CAFile string
	// CertFile and KeyFile supply the client certificate for mutual TLS.
	// Both must be set together.
	CertFile string
	KeyFile  string
	// InsecureSkipVerify disables server certificate verification. Setting
	// this is an operator opt-in for self-signed brokers.
	InsecureSkipVerify bool
	// MinVersion is "1.2" or "1.3". Empty or unrecognized means 1.2.
	MinVersion string
}

// LoadClientConfig creates a tls.Config for client connections. The system
// CA bundle is always trusted; CAFile adds to it.
func LoadClientConfig(cfg ClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         parseTLSVersion(cfg.MinVersion),
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in
	}

	// Start with system CA pool
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		// If system pool unavailable, create empty pool
		rootCAs = x509.NewCertPool()
	}

	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig",
				fmt.Sprintf("read CA file %s", cfg.CAFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(
				fmt.Errorf("invalid PEM data"),
				"tlsutil", "LoadClientConfig",
				fmt.Sprintf("parse CA certificate from %s", cfg.CAFile))
		}
	}
	tlsConfig.RootCAs = rootCAs

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// parseTLSVersion converts version string to crypto/tls constant
// Returns tls.VersionTLS12 if empty or invalid
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12 // Safe default
	}
}
