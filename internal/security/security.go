// Package security builds the mutual-TLS contexts used by the gateway listener and the
// agent connector. Peer verification is mandatory in both roles.
package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"strings"
	"time"
)

const DefaultHandshakeTimeout = 5 * time.Second

// Config points at the three PEM files that make up one side's identity and trust.
type Config struct {
	CertFile         string
	KeyFile          string
	CAFile           string
	ServerName       string
	HandshakeTimeout time.Duration
}

func (c Config) WithDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	c.CertFile = strings.TrimSpace(c.CertFile)
	c.KeyFile = strings.TrimSpace(c.KeyFile)
	c.CAFile = strings.TrimSpace(c.CAFile)
	c.ServerName = strings.TrimSpace(c.ServerName)
	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.CertFile) == "" {
		return ErrCertFileRequired
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return ErrKeyFileRequired
	}
	if strings.TrimSpace(c.CAFile) == "" {
		return ErrCAFileRequired
	}
	return nil
}

func (c Config) ValidateServer() error {
	return wrap("validate server config", "", c.validate())
}

func (c Config) ValidateClient() error {
	return wrap("validate client config", "", c.validate())
}

// ServerTLS loads the listener identity and the CA bundle used to verify clients.
func (c Config) ServerTLS() (*tls.Config, error) {
	c = c.WithDefaults()
	if err := c.ValidateServer(); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, wrap("load server key pair", "", err)
	}
	pool, err := loadPool(c.CAFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		NextProtos:   []string{"http/1.1"},
	}, nil
}

// ClientTLS loads the agent identity and the CA bundle used to verify the server.
// ServerName defaults to the host part of addr.
func (c Config) ClientTLS(addr string) (*tls.Config, error) {
	c = c.WithDefaults()
	if err := c.ValidateClient(); err != nil {
		return nil, err
	}
	serverName := c.ServerName
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, wrap("resolve server name", addr, err)
		}
		serverName = host
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, wrap("load client key pair", "", err)
	}
	pool, err := loadPool(c.CAFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   serverName,
		NextProtos:   []string{"http/1.1"},
	}, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, wrap("read ca bundle", "", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, wrap("parse ca bundle "+path, "", ErrEmptyCABundle)
	}
	return pool, nil
}

// Handshake runs the TLS handshake within timeout and requires a verified peer
// certificate. The returned state belongs to the completed handshake.
func Handshake(ctx context.Context, conn *tls.Conn, timeout time.Duration) (tls.ConnectionState, error) {
	peer := ""
	if addr := conn.RemoteAddr(); addr != nil {
		peer = addr.String()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		return tls.ConnectionState{}, wrap("handshake", peer, err)
	}
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return tls.ConnectionState{}, wrap("handshake", peer, ErrNoPeerCert)
	}
	return state, nil
}

// PeerIdentity prefers CN, then the first URI SAN, then the first DNS SAN.
func PeerIdentity(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	if v := strings.TrimSpace(cert.Subject.CommonName); v != "" {
		return v
	}
	if len(cert.URIs) > 0 {
		if v := strings.TrimSpace(cert.URIs[0].String()); v != "" {
			return v
		}
	}
	if len(cert.DNSNames) > 0 {
		if v := strings.TrimSpace(cert.DNSNames[0]); v != "" {
			return v
		}
	}
	return ""
}

// PeerIdentityFromState reads the identity of the verified leaf certificate.
func PeerIdentityFromState(state *tls.ConnectionState) string {
	if state == nil || len(state.PeerCertificates) == 0 {
		return ""
	}
	return PeerIdentity(state.PeerCertificates[0])
}
