package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"jobmail-hq/governor/pkg/config"
)

// ServerConfig returns the crypto/tls configuration for cfg, serving the
// certificate held by r. It returns nil when TLS is disabled.
func ServerConfig(cfg config.TLSConfig, r *Reloader) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if r == nil {
		return nil, fmt.Errorf("tls: a certificate reloader is required")
	}
	minVersion, err := parseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	tc := &tls.Config{
		MinVersion:     minVersion,
		GetCertificate: r.GetCertificate,
	}
	if cfg.ClientCAFile != "" {
		pem, err := os.ReadFile(cfg.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("tls: read client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("tls: no certificates in %s", cfg.ClientCAFile)
		}
		tc.ClientCAs = pool
		tc.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tc, nil
}

func parseVersion(v string) (uint16, error) {
	switch v {
	case "1.3", "":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("tls: unsupported minimum version %q", v)
}
