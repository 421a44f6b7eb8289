package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/agentlink/internal/connector"
)

// agentctl config.toml key mapping to connector settings.
type fileConfig struct {
	AgentID            string `toml:"agent_id"`
	Address            string `toml:"address"`
	Path               string `toml:"path"`
	ServerName         string `toml:"server_name"`
	TLSCertFile        string `toml:"tls_cert_file"`
	TLSKeyFile         string `toml:"tls_key_file"`
	TLSCAFile          string `toml:"tls_ca_file"`
	ConnectTimeoutMS   int64  `toml:"connect_timeout_ms"`
	HandshakeTimeoutMS int64  `toml:"handshake_timeout_ms"`
	ReadTimeoutMS      int64  `toml:"read_timeout_ms"`
	WriteTimeoutMS     int64  `toml:"write_timeout_ms"`
}

func loadConnectorConfig(path string) (connector.Config, error) {
	cfg := connector.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return connector.Config{}, fmt.Errorf("load agent config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return connector.Config{}, fmt.Errorf("load agent config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("agent_id") {
		cfg.AgentID = strings.TrimSpace(raw.AgentID)
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("path") {
		cfg.Path = strings.TrimSpace(raw.Path)
	}
	if meta.IsDefined("server_name") {
		cfg.Security.ServerName = strings.TrimSpace(raw.ServerName)
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.Security.CertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.Security.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Security.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("connect_timeout_ms") {
		cfg.ConnectTimeout = time.Duration(raw.ConnectTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("handshake_timeout_ms") {
		cfg.HandshakeTimeout = time.Duration(raw.HandshakeTimeoutMS) * time.Millisecond
		cfg.Security.HandshakeTimeout = cfg.HandshakeTimeout
	}
	if meta.IsDefined("read_timeout_ms") {
		cfg.Session.ReadTimeout = time.Duration(raw.ReadTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("write_timeout_ms") {
		cfg.Session.WriteTimeout = time.Duration(raw.WriteTimeoutMS) * time.Millisecond
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return connector.Config{}, fmt.Errorf("load agent config: %w", err)
	}
	return cfg, nil
}
