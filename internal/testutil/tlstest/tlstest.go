package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var serial atomic.Int64

// Authority is a throwaway CA that writes PEM material into a test directory.
type Authority struct {
	cert   *x509.Certificate
	key    *ecdsa.PrivateKey
	caPath string
}

// Pair is one issued certificate/key on disk.
type Pair struct {
	CertFile string
	KeyFile  string
}

type issueOpts struct {
	usage     x509.ExtKeyUsage
	dnsNames  []string
	ips       []net.IP
	notBefore time.Time
	notAfter  time.Time
}

func NewAuthority(t testing.TB, dir string, commonName string) *Authority {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ca key: %v", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(serial.Add(1)),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create ca cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}

	caPath := filepath.Join(dir, sanitize(commonName)+"-ca.crt")
	if err := writePEM(caPath, "CERTIFICATE", der, 0o644); err != nil {
		t.Fatalf("write ca cert: %v", err)
	}
	return &Authority{cert: cert, key: key, caPath: caPath}
}

func (a *Authority) CAFile() string {
	return a.caPath
}

// IssueServerCert issues a serving certificate valid for localhost and 127.0.0.1.
func (a *Authority) IssueServerCert(t testing.TB, dir string, commonName string) Pair {
	t.Helper()
	now := time.Now()
	return a.issue(t, dir, commonName, issueOpts{
		usage:     x509.ExtKeyUsageServerAuth,
		dnsNames:  []string{"localhost"},
		ips:       []net.IP{net.ParseIP("127.0.0.1")},
		notBefore: now.Add(-time.Hour),
		notAfter:  now.Add(24 * time.Hour),
	})
}

func (a *Authority) IssueClientCert(t testing.TB, dir string, commonName string) Pair {
	t.Helper()
	now := time.Now()
	return a.issue(t, dir, commonName, issueOpts{
		usage:     x509.ExtKeyUsageClientAuth,
		notBefore: now.Add(-time.Hour),
		notAfter:  now.Add(24 * time.Hour),
	})
}

// IssueExpiredClientCert issues a client certificate whose validity ended an hour ago.
func (a *Authority) IssueExpiredClientCert(t testing.TB, dir string, commonName string) Pair {
	t.Helper()
	now := time.Now()
	return a.issue(t, dir, commonName, issueOpts{
		usage:     x509.ExtKeyUsageClientAuth,
		notBefore: now.Add(-48 * time.Hour),
		notAfter:  now.Add(-time.Hour),
	})
}

func (a *Authority) issue(t testing.TB, dir string, commonName string, opts issueOpts) Pair {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    opts.notBefore,
		NotAfter:     opts.notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{opts.usage},
		DNSNames:     opts.dnsNames,
		IPAddresses:  opts.ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, a.cert, &key.PublicKey, a.key)
	if err != nil {
		t.Fatalf("create signed cert: %v", err)
	}

	base := sanitize(commonName)
	certPath := filepath.Join(dir, fmt.Sprintf("%s.crt", base))
	keyPath := filepath.Join(dir, fmt.Sprintf("%s.key", base))

	if err := writePEM(certPath, "CERTIFICATE", der, 0o644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	if err := writePEM(keyPath, "EC PRIVATE KEY", keyDER, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return Pair{CertFile: certPath, KeyFile: keyPath}
}

func writePEM(path string, blockType string, der []byte, perm os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return os.WriteFile(path, data, perm)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "cert"
	}
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}
