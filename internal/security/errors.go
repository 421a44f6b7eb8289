package security

import (
	"errors"
	"fmt"
)

var (
	ErrTransportSecurity = errors.New("security: transport security failure")

	ErrCertFileRequired = errors.New("security: tls cert file required")
	ErrKeyFileRequired  = errors.New("security: tls key file required")
	ErrCAFileRequired   = errors.New("security: tls ca file required")
	ErrEmptyCABundle    = errors.New("security: ca bundle has no certificates")
	ErrNoPeerCert       = errors.New("security: peer presented no certificate")
	ErrNotTLS           = errors.New("security: connection is not tls")
)

// TransportSecurityError wraps every TLS and certificate failure. It is never retried.
type TransportSecurityError struct {
	Op   string
	Peer string
	Err  error
}

func (e *TransportSecurityError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("security: %s peer=%s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("security: %s: %v", e.Op, e.Err)
}

func (e *TransportSecurityError) Unwrap() []error {
	return []error{ErrTransportSecurity, e.Err}
}

func wrap(op, peer string, err error) error {
	if err == nil {
		return nil
	}
	var tse *TransportSecurityError
	if errors.As(err, &tse) {
		return err
	}
	return &TransportSecurityError{Op: op, Peer: peer, Err: err}
}
