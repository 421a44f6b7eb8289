package config

import (
	"strings"
	"time"

	"github.com/danmuck/agentlink/internal/connector"
	"github.com/danmuck/agentlink/internal/gateway"
	"github.com/danmuck/agentlink/internal/security"
	"github.com/danmuck/agentlink/internal/session"
)

func (c GatewayConfig) ServiceConfig() gateway.ServiceConfig {
	cfg := gateway.DefaultServiceConfig()
	cfg.NodeID = strings.TrimSpace(c.ID)
	cfg.ListenAddr = strings.TrimSpace(c.ListenAddr)
	cfg.Path = strings.TrimSpace(c.Path)
	cfg.AdminListenAddr = strings.TrimSpace(c.AdminListenAddr)
	cfg.CorsOrigins = c.CorsOrigins
	cfg.AllowedPeers = c.AllowedPeers
	cfg.Security = security.Config{
		CertFile:         c.TLSCertFile,
		KeyFile:          c.TLSKeyFile,
		CAFile:           c.TLSCAFile,
		HandshakeTimeout: millis(c.HandshakeTimeoutMS),
	}
	cfg.Session = session.Options{
		ReadTimeout:  millis(c.ReadTimeoutMS),
		WriteTimeout: millis(c.WriteTimeoutMS),
		MaxFrameSize: c.MaxFrameSize,
	}
	return cfg.WithDefaults()
}

func (c AgentConfig) ConnectorConfig() connector.Config {
	return connector.Config{
		Address: strings.TrimSpace(c.Address),
		Path:    strings.TrimSpace(c.Path),
		AgentID: strings.TrimSpace(c.AgentID),
		Security: security.Config{
			CertFile:         c.TLSCertFile,
			KeyFile:          c.TLSKeyFile,
			CAFile:           c.TLSCAFile,
			ServerName:       c.ServerName,
			HandshakeTimeout: millis(c.HandshakeTimeoutMS),
		},
		ConnectTimeout:   millis(c.ConnectTimeoutMS),
		HandshakeTimeout: millis(c.HandshakeTimeoutMS),
		Session: session.Options{
			ReadTimeout:  millis(c.ReadTimeoutMS),
			WriteTimeout: millis(c.WriteTimeoutMS),
		},
	}.WithDefaults()
}

func millis(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
