package mqttsource

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/sandrolain/uplink-bridge/src/sources"
)

// BuildTLSConfig creates the client tls.Config, or nil when TLS is disabled.
func BuildTLSConfig(c *sources.TLSConfig) (*tls.Config, error) {
	if c == nil || !c.Enabled {
		return nil, nil
	}

	// #nosec G402 - MinVersion is configurable by user, not hardcoded to a low value
	config := &tls.Config{
		MinVersion:         minTLSVersion(c.MinVersion),
		InsecureSkipVerify: c.InsecureSkipVerify, // #nosec G402 - defaults to false, used only for testing
		ServerName:         c.ServerName,
	}

	if c.CACertFile != "" {
		caCert, err := os.ReadFile(c.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		config.RootCAs = pool
	}

	if c.ClientCertFile != "" && c.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCertFile, c.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate and key: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	} else if c.ClientCertFile != "" || c.ClientKeyFile != "" {
		return nil, fmt.Errorf("both client_cert_file and client_key_file must be provided for client authentication")
	}

	return config, nil
}

func minTLSVersion(v string) uint16 {
	switch v {
	case "1.0":
		return tls.VersionTLS10
	case "1.1":
		return tls.VersionTLS11
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
