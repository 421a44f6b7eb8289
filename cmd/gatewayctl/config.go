package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/agentlink/internal/gateway"
)

// gatewayctl config.toml key mapping to gateway runtime settings.
type fileConfig struct {
	ID                 string      `toml:"id"`
	ListenAddr         string      `toml:"listen_addr"`
	Path               string      `toml:"path"`
	AdminListenAddr    string      `toml:"admin_listen_addr"`
	CorsOrigins        []string    `toml:"cors_origins"`
	AllowedPeers       []string    `toml:"allowed_peers"`
	TLSCertFile        string      `toml:"tls_cert_file"`
	TLSKeyFile         string      `toml:"tls_key_file"`
	TLSCAFile          string      `toml:"tls_ca_file"`
	HandshakeTimeoutMS int64       `toml:"handshake_timeout_ms"`
	ReadTimeoutMS      int64       `toml:"read_timeout_ms"`
	WriteTimeoutMS     int64       `toml:"write_timeout_ms"`
	MaxFrameSize       int64       `toml:"max_frame_size"`
	Routes             []fileRoute `toml:"routes"`
}

type fileRoute struct {
	Tipo  string `toml:"tipo"`
	Reply string `toml:"reply"`
}

type runtimeConfig struct {
	Service gateway.ServiceConfig
	Routes  map[string]string
}

// gatewayctl loader: keys absent from the file keep their gateway defaults.
func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := gateway.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load gateway config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runtimeConfig{}, fmt.Errorf("load gateway config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("id") {
		cfg.NodeID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("path") {
		cfg.Path = strings.TrimSpace(raw.Path)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("allowed_peers") {
		cfg.AllowedPeers = raw.AllowedPeers
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
	if meta.IsDefined("handshake_timeout_ms") {
		cfg.Security.HandshakeTimeout = time.Duration(raw.HandshakeTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("read_timeout_ms") {
		cfg.Session.ReadTimeout = time.Duration(raw.ReadTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("write_timeout_ms") {
		cfg.Session.WriteTimeout = time.Duration(raw.WriteTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("max_frame_size") {
		cfg.Session.MaxFrameSize = raw.MaxFrameSize
	}

	routes := make(map[string]string, len(raw.Routes))
	for i, route := range raw.Routes {
		tipo, reply := strings.TrimSpace(route.Tipo), strings.TrimSpace(route.Reply)
		if tipo == "" || reply == "" {
			return runtimeConfig{}, fmt.Errorf("load gateway config: routes[%d] needs tipo and reply", i)
		}
		routes[tipo] = reply
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return runtimeConfig{}, fmt.Errorf("load gateway config: %w", err)
	}
	return runtimeConfig{Service: cfg, Routes: routes}, nil
}
