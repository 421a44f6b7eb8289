package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/agentlink/internal/security"
	"github.com/danmuck/agentlink/internal/session"
)

var (
	ErrListenAddrRequired = errors.New("gateway: listen addr required")
	ErrInvalidPath        = errors.New("gateway: path must start with /")
)

// Gateway listener configuration.
type ServiceConfig struct {
	NodeID          string
	ListenAddr      string
	Path            string
	AdminListenAddr string
	CorsOrigins     []string
	// AllowedPeers limits which certificate identities may open sessions. Empty
	// admits every peer the CA vouches for.
	AllowedPeers    []string
	Security        security.Config
	Session         session.Options
	ShutdownTimeout time.Duration
}

// Gateway defaults. Session timeouts stay zero: sessions block on reads until the
// peer closes.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:          "gateway.local",
		ListenAddr:      "0.0.0.0:8080",
		Path:            "/",
		AdminListenAddr: "",
		Security:        security.Config{HandshakeTimeout: security.DefaultHandshakeTimeout},
		Session:         session.Options{},
		ShutdownTimeout: 5 * time.Second,
	}
}

func (c ServiceConfig) WithDefaults() ServiceConfig {
	d := DefaultServiceConfig()
	if strings.TrimSpace(c.NodeID) == "" {
		c.NodeID = d.NodeID
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = d.ListenAddr
	}
	if strings.TrimSpace(c.Path) == "" {
		c.Path = d.Path
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	c.Security = c.Security.WithDefaults()
	return c
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrListenAddrRequired
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, c.Path)
	}
	return c.Security.ValidateServer()
}
