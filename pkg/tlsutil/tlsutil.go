// Package tlsutil builds crypto/tls configurations for the hub listener and
// the agent's websocket dialer.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/cachescope/errors"
)

// ServerConfig configures TLS on the hub listener.
type ServerConfig struct {
	Enabled    bool   `json:"enabled"               yaml:"enabled"               env:"ENABLED"`
	CertFile   string `json:"cert_file,omitempty"   yaml:"cert_file,omitempty"   env:"CERT_FILE"`
	KeyFile    string `json:"key_file,omitempty"    yaml:"key_file,omitempty"    env:"KEY_FILE"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty" env:"MIN_VERSION"` // "1.2" or "1.3"

	// ClientCAFiles enables mutual TLS: devices and dashboards must present
	// a certificate signed by one of these CAs.
	ClientCAFiles     []string `json:"client_ca_files,omitempty"     yaml:"client_ca_files,omitempty"     env:"CLIENT_CA_FILES"`
	RequireClientCert bool     `json:"require_client_cert,omitempty" yaml:"require_client_cert,omitempty" env:"REQUIRE_CLIENT_CERT"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"  yaml:"allowed_client_cns,omitempty"  env:"ALLOWED_CLIENT_CNS"`
}

// ClientConfig configures TLS for wss connections.
// The system CA bundle is always trusted; CAFiles are additional CAs.
type ClientConfig struct {
	CAFiles            []string `json:"ca_files,omitempty"             yaml:"ca_files,omitempty"             env:"CA_FILES"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty" env:"INSECURE_SKIP_VERIFY"` // DEV/TEST ONLY
	MinVersion         string   `json:"min_version,omitempty"          yaml:"min_version,omitempty"          env:"MIN_VERSION"`

	// CertFile and KeyFile present a client certificate for mutual TLS.
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty" env:"CERT_FILE"`
	KeyFile  string `json:"key_file,omitempty"  yaml:"key_file,omitempty"  env:"KEY_FILE"`
}

// LoadServerConfig returns nil when TLS is disabled.
func LoadServerConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	if len(cfg.ClientCAFiles) == 0 {
		return tlsConfig, nil
	}

	clientCAs := x509.NewCertPool()
	if err := appendCAFiles(clientCAs, cfg.ClientCAFiles); err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load client CAs")
	}
	tlsConfig.ClientCAs = clientCAs
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if len(cfg.AllowedClientCNs) > 0 {
		allowed := cfg.AllowedClientCNs
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
			return verifyAllowedClientCN(verifiedChains, allowed)
		}
	}
	return tlsConfig, nil
}

// LoadClientConfig builds a dialer configuration.
func LoadClientConfig(cfg ClientConfig) (*tls.Config, error) {
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if err := appendCAFiles(rootCAs, cfg.CAFiles); err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load CAs")
	}

	tlsConfig := &tls.Config{
		RootCAs:            rootCAs,
		MinVersion:         parseTLSVersion(cfg.MinVersion),
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}
	return tlsConfig, nil
}

func appendCAFiles(pool *x509.CertPool, files []string) error {
	for _, caFile := range files {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return fmt.Errorf("read CA file %s: %w", caFile, err)
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return fmt.Errorf("parse CA certificate from %s: invalid PEM data", caFile)
		}
	}
	return nil
}

// verifyAllowedClientCN checks the leaf certificate CN against the allow list.
func verifyAllowedClientCN(chains [][]*x509.Certificate, allowedCNs []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}

	leafCert := chains[0][0]
	for _, allowedCN := range allowedCNs {
		if leafCert.Subject.CommonName == allowedCN {
			return nil
		}
	}
	return fmt.Errorf("client certificate CN '%s' not in allowed list", leafCert.Subject.CommonName)
}

// ValidVersion reports whether v names a supported minimum version.
func ValidVersion(v string) bool {
	switch v {
	case "", "1.2", "1.3":
		return true
	}
	return false
}

// parseTLSVersion returns tls.VersionTLS12 for empty or unknown versions.
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
