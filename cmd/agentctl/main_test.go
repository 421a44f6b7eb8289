package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/agentlink/internal/connector"
	"github.com/danmuck/agentlink/internal/envelope"
	"github.com/danmuck/agentlink/internal/gateway"
	"github.com/danmuck/agentlink/internal/security"
	"github.com/danmuck/agentlink/internal/session"
	"github.com/danmuck/agentlink/internal/testutil/testlog"
	"github.com/danmuck/agentlink/internal/testutil/tlstest"
)

func TestLoadConnectorConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
agent_id = "agent-7"
address = "gateway.internal:8443"
tls_cert_file = "client.crt"
tls_key_file = "client.key"
tls_ca_file = "ca.crt"
read_timeout_ms = 250
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadConnectorConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Address != "gateway.internal:8443" || cfg.Path != "/ws/agent-7" {
		t.Fatalf("unexpected address/path: %+v", cfg)
	}
	defaults := connector.DefaultConfig()
	if cfg.ConnectTimeout != defaults.ConnectTimeout || cfg.HandshakeTimeout != defaults.HandshakeTimeout {
		t.Fatalf("undefined timeouts should keep defaults: %+v", cfg)
	}
	if cfg.Session.ReadTimeout != 250*time.Millisecond || cfg.Session.WriteTimeout != 0 {
		t.Fatalf("unexpected session options: %+v", cfg.Session)
	}
}

func TestLoadConnectorConfigRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("adress = \"x\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadConnectorConfig(path); err == nil || !strings.Contains(err.Error(), "adress") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestSendAgainstGateway(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "agentctl-ca")
	server := ca.IssueServerCert(t, dir, "gateway.local")
	client := ca.IssueClientCert(t, dir, "agent-7")

	gwCfg := gateway.DefaultServiceConfig()
	gwCfg.Security = security.Config{CertFile: server.CertFile, KeyFile: server.KeyFile, CAFile: ca.CAFile()}
	svc := gateway.NewServiceWithConfig(gwCfg)
	router := session.NewRouter()
	router.HandleFunc("PING", func(_ context.Context, s *session.Session, env envelope.Envelope) error {
		return s.SendEnvelope(envelope.Reply(env, "PONG"))
	})
	svc.SetHandler(router)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	cfg := connector.Config{
		Address: ln.Addr().String(),
		AgentID: "agent-7",
		Security: security.Config{
			CertFile: client.CertFile,
			KeyFile:  client.KeyFile,
			CAFile:   ca.CAFile(),
		},
	}

	exchangeCtx, exchangeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer exchangeCancel()

	var out bytes.Buffer
	if err := send(exchangeCtx, cfg, sendOptions{message: "hola"}, &out); err != nil {
		t.Fatalf("echo send: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "hola" {
		t.Fatalf("unexpected echo reply: %q", got)
	}

	for _, binary := range []bool{false, true} {
		out.Reset()
		opts := sendOptions{message: "hola", tipo: "PING", destino: "gateway", binary: binary}
		if err := send(exchangeCtx, cfg, opts, &out); err != nil {
			t.Fatalf("envelope send (binary=%v): %v", binary, err)
		}
		reply, err := envelope.Parse(bytes.TrimSpace(out.Bytes()))
		if err != nil {
			t.Fatalf("parse reply: %v", err)
		}
		if reply.Tipo() != "PONG" || reply.Destino() != "agent-7" {
			t.Fatalf("unexpected reply envelope: %v", reply)
		}
		if _, ok := reply.RespuestaA(); !ok {
			t.Fatalf("reply should correlate to the request: %v", reply)
		}
	}
}

func TestOutboundFrameDefaultsOrigen(t *testing.T) {
	testlog.Start(t)
	f, err := outboundFrame("", sendOptions{message: "x", tipo: "PING", destino: "gw"})
	if err != nil {
		t.Fatalf("outbound frame: %v", err)
	}
	env, err := session.DecodeEnvelope(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Origen() != "agentctl" || env.Datos()["mensaje"] != "x" {
		t.Fatalf("unexpected envelope: %v", env)
	}
}
