// Package auth decides which verified peer identities may open a session.
//
// Certificate verification happens earlier in the TLS handshake; this layer only
// narrows the set of identities the CA would otherwise admit.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

var ErrUnauthorized = errors.New("auth: peer not authorized")

// Authorizer accepts or rejects a peer identity.
type Authorizer interface {
	Authorize(identity string) error
}

// Allowlist admits the listed identities. An empty allowlist admits every peer.
type Allowlist struct {
	identities []string
}

func NewAllowlist(identities ...string) Allowlist {
	out := make([]string, 0, len(identities))
	for _, id := range identities {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return Allowlist{identities: out}
}

func (a Allowlist) Len() int { return len(a.identities) }

func (a Allowlist) Authorize(identity string) error {
	if len(a.identities) == 0 {
		return nil
	}
	matched := 0
	for _, id := range a.identities {
		matched |= subtle.ConstantTimeCompare([]byte(id), []byte(identity))
	}
	if matched != 1 {
		return fmt.Errorf("%w: %q", ErrUnauthorized, identity)
	}
	return nil
}

// FuncAuthorizer adapts a function into an Authorizer.
type FuncAuthorizer func(identity string) error

func (f FuncAuthorizer) Authorize(identity string) error {
	return f(identity)
}
