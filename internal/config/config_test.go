package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/agentlink/internal/testutil/testlog"
)

func TestTemplatesLoadAndValidate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()

	gatewayPath := filepath.Join(dir, "gateway.toml")
	if err := WriteTemplate(gatewayPath, "gateway", false); err != nil {
		t.Fatalf("write gateway template: %v", err)
	}
	gw, err := LoadGatewayConfig(gatewayPath)
	if err != nil {
		t.Fatalf("load gateway template: %v", err)
	}
	if gw.ListenAddr != "0.0.0.0:8080" || len(gw.Routes) != 1 || gw.Routes[0].Reply != "PONG" {
		t.Fatalf("unexpected gateway config: %+v", gw)
	}

	agentPath := filepath.Join(dir, "agent.toml")
	if err := WriteTemplate(agentPath, "AGENT", false); err != nil {
		t.Fatalf("write agent template: %v", err)
	}
	agent, err := LoadAgentConfig(agentPath)
	if err != nil {
		t.Fatalf("load agent template: %v", err)
	}
	if agent.AgentID != "agent.local" || agent.ServerName != "localhost" {
		t.Fatalf("unexpected agent config: %+v", agent)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "gateway.toml")
	if err := WriteTemplate(path, "gateway", false); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteTemplate(path, "gateway", false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	if err := WriteTemplate(path, "gateway", true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
	if _, err := Template("broker"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "gateway.toml")
	content := `
listen_addr = "127.0.0.1:8443"
tls_cert_file = "a"
tls_key_file = "b"
tls_ca_file = "c"
tls_cert_fiel = "typo"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadGatewayConfig(path)
	if err == nil || !strings.Contains(err.Error(), "tls_cert_fiel") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidateGatewayConfig(t *testing.T) {
	testlog.Start(t)
	base := GatewayConfig{ListenAddr: ":8080", Path: "/", TLSCertFile: "c", TLSKeyFile: "k", TLSCAFile: "ca"}
	if err := ValidateGatewayConfig(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*GatewayConfig){
		"listen_addr":     func(c *GatewayConfig) { c.ListenAddr = " " },
		"path":            func(c *GatewayConfig) { c.Path = "ws" },
		"tls_ca_file":     func(c *GatewayConfig) { c.TLSCAFile = "" },
		"read_timeout_ms": func(c *GatewayConfig) { c.ReadTimeoutMS = -1 },
		"routes[0]":       func(c *GatewayConfig) { c.Routes = []Route{{Tipo: "PING"}} },
	}
	for want, mutate := range cases {
		cfg := base
		mutate(&cfg)
		err := ValidateGatewayConfig(cfg)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: expected error mentioning %q, got %v", want, want, err)
		}
	}
}

func TestGatewayConfigToServiceConfig(t *testing.T) {
	testlog.Start(t)
	cfg := GatewayConfig{
		ID:                 "gw.alpha",
		ListenAddr:         "127.0.0.1:8443",
		Path:               "/ws/",
		TLSCertFile:        "server.crt",
		TLSKeyFile:         "server.key",
		TLSCAFile:          "ca.crt",
		AllowedPeers:       []string{"agent-7"},
		HandshakeTimeoutMS: 1500,
		ReadTimeoutMS:      0,
		WriteTimeoutMS:     250,
	}.ServiceConfig()
	if cfg.NodeID != "gw.alpha" || cfg.ListenAddr != "127.0.0.1:8443" || cfg.Path != "/ws/" {
		t.Fatalf("unexpected service config: %+v", cfg)
	}
	if len(cfg.AllowedPeers) != 1 || cfg.AllowedPeers[0] != "agent-7" {
		t.Fatalf("unexpected allowed peers: %v", cfg.AllowedPeers)
	}
	if cfg.Security.HandshakeTimeout != 1500*time.Millisecond {
		t.Fatalf("unexpected handshake timeout: %v", cfg.Security.HandshakeTimeout)
	}
	if cfg.Session.ReadTimeout != 0 || cfg.Session.WriteTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected session options: %+v", cfg.Session)
	}
}

func TestAgentConfigToConnectorConfig(t *testing.T) {
	testlog.Start(t)
	cfg := AgentConfig{
		AgentID:     "agent-7",
		Address:     "gateway.internal:8443",
		TLSCertFile: "client.crt",
		TLSKeyFile:  "client.key",
		TLSCAFile:   "ca.crt",
	}.ConnectorConfig()
	if cfg.Path != "/ws/agent-7" {
		t.Fatalf("unexpected path: %q", cfg.Path)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Fatalf("unexpected connect timeout: %v", cfg.ConnectTimeout)
	}
}
