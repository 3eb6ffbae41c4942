package certs

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"
)

// PeerInfo summarises the certificate presented by a TLS endpoint.
type PeerInfo struct {
	Subject  string    `json:"subject"`
	Issuer   string    `json:"issuer"`
	NotAfter time.Time `json:"not_after"`
	Version  string    `json:"tls_version"`
}

// VerifyEndpoint performs a TLS handshake against rawURL using base (which may
// be nil) and reports the leaf certificate. Only https and wss URLs are
// accepted.
func VerifyEndpoint(ctx context.Context, rawURL string, base *tls.Config) (PeerInfo, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return PeerInfo{}, fmt.Errorf("parse url: %w", err)
	}
	switch parsed.Scheme {
	case "https", "wss":
	default:
		return PeerInfo{}, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return PeerInfo{}, fmt.Errorf("url missing hostname")
	}
	port := parsed.Port()
	if port == "" {
		port = "443"
	}

	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}

	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 5 * time.Second}, Config: cfg}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return PeerInfo{}, fmt.Errorf("tls dial %s: %w", host, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if !state.HandshakeComplete {
		return PeerInfo{}, fmt.Errorf("handshake incomplete")
	}
	if len(state.PeerCertificates) == 0 {
		return PeerInfo{}, fmt.Errorf("no peer certificates received")
	}
	leaf := state.PeerCertificates[0]
	return PeerInfo{
		Subject:  leaf.Subject.String(),
		Issuer:   leaf.Issuer.String(),
		NotAfter: leaf.NotAfter.UTC(),
		Version:  tls.VersionName(state.Version),
	}, nil
}
