package certs

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ClientTLSConfig returns the settings shared by the sink client and the feed
// websocket. A non-empty caPath trusts that bundle in addition to the system
// roots.
func ClientTLSConfig(caPath string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure,
		ClientSessionCache: tls.NewLRUClientSessionCache(8),
	}
	if caPath == "" {
		return cfg, nil
	}
	roots, err := rootsWithBundle(caPath)
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = roots
	return cfg, nil
}

func rootsWithBundle(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA bundle %q has no usable certificates", path)
	}
	return pool, nil
}
