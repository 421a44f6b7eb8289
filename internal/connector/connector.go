// Package connector dials a gateway: TCP connect, mTLS handshake, then the WebSocket
// client handshake. It makes exactly one attempt per call.
package connector

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/agentlink/internal/security"
	"github.com/danmuck/agentlink/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnect          = errors.New("connector: connect failed")
	ErrUpgradeRejected  = errors.New("connector: upgrade rejected")
	ErrAddressRequired  = errors.New("connector: address required")
	ErrInvalidAgentPath = errors.New("connector: path must start with /")
)

type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connector: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() []error {
	return []error{ErrConnect, e.Err}
}

// UpgradeRejectedError means the server answered the upgrade with a status other
// than 101 Switching Protocols.
type UpgradeRejectedError struct {
	Status int
	Err    error
}

func (e *UpgradeRejectedError) Error() string {
	return fmt.Sprintf("connector: upgrade rejected status=%d: %v", e.Status, e.Err)
}

func (e *UpgradeRejectedError) Unwrap() []error {
	return []error{ErrUpgradeRejected, e.Err}
}

type Config struct {
	Address          string
	Path             string
	AgentID          string
	Security         security.Config
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	Session          session.Options
}

func DefaultConfig() Config {
	return Config{
		Address:          "127.0.0.1:8080",
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		Security:         security.Config{HandshakeTimeout: security.DefaultHandshakeTimeout},
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	c.Address = strings.TrimSpace(c.Address)
	c.AgentID = strings.TrimSpace(c.AgentID)
	c.Path = strings.TrimSpace(c.Path)
	if c.Path == "" {
		c.Path = "/"
		if c.AgentID != "" {
			c.Path = "/ws/" + c.AgentID
		}
	}
	c.Security = c.Security.WithDefaults()
	return c
}

func (c Config) Validate() error {
	if c.Address == "" {
		return ErrAddressRequired
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidAgentPath, c.Path)
	}
	return c.Security.ValidateClient()
}

type Connector struct {
	cfg    Config
	tlsCfg *tls.Config
}

// New validates cfg and loads the client identity. Bad key material is reported here
// as a *security.TransportSecurityError.
func New(cfg Config) (*Connector, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.Security.ClientTLS(cfg.Address)
	if err != nil {
		return nil, err
	}
	return &Connector{cfg: cfg, tlsCfg: tlsCfg}, nil
}

func (c *Connector) Config() Config {
	return c.cfg
}

// Dial opens one client session.
func (c *Connector) Dial(ctx context.Context) (*session.Session, error) {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, &ConnectError{Addr: c.cfg.Address, Err: err}
	}

	tlsConn := tls.Client(raw, c.tlsCfg.Clone())
	state, err := security.Handshake(ctx, tlsConn, c.cfg.Security.HandshakeTimeout)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	wsDialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		NetDialTLSContext: func(context.Context, string, string) (net.Conn, error) {
			return tlsConn, nil
		},
	}
	target := url.URL{Scheme: "wss", Host: c.cfg.Address, Path: c.cfg.Path}
	conn, resp, err := wsDialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		_ = tlsConn.Close()
		return nil, c.classifyUpgradeErr(resp, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	peer := security.PeerIdentityFromState(&state)
	sess := session.New(conn, session.Info{
		ID:           uuid.NewString(),
		Role:         session.RoleClient,
		PeerIdentity: peer,
		AgentID:      c.cfg.AgentID,
		RemoteAddr:   c.cfg.Address,
		Path:         c.cfg.Path,
	}, c.cfg.Session)
	log.Info().
		Str("session_id", sess.ID()).
		Str("addr", c.cfg.Address).
		Str("peer", peer).
		Str("agent_id", c.cfg.AgentID).
		Msg("connector.Dial connected")
	return sess, nil
}

// classifyUpgradeErr separates HTTP rejections from late TLS alerts. Under TLS 1.3 the
// server verifies the client certificate after the client finished its handshake, so
// a rejection only surfaces on the first read.
func (c *Connector) classifyUpgradeErr(resp *http.Response, err error) error {
	if resp != nil {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		return &UpgradeRejectedError{Status: resp.StatusCode, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "remote error" {
		return &security.TransportSecurityError{Op: "handshake", Peer: c.cfg.Address, Err: err}
	}
	return &ConnectError{Addr: c.cfg.Address, Err: err}
}

// Run dials, hands the session to fn and closes the session afterwards whatever fn
// returns.
func (c *Connector) Run(ctx context.Context, fn func(context.Context, *session.Session) error) error {
	sess, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(ctx, sess)
}

// RoundTrip writes f and waits for the next inbound frame.
func RoundTrip(ctx context.Context, sess *session.Session, f session.Frame) (session.Frame, error) {
	if err := sess.WriteFrame(f); err != nil {
		return session.Frame{}, err
	}
	return sess.ReadFrame(ctx)
}
