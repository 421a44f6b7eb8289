package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "gateway":
		return gatewayTemplate, nil
	case "agent":
		return agentTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const gatewayTemplate = `id = "gateway.local"
listen_addr = "0.0.0.0:8080"
path = "/"
admin_listen_addr = "127.0.0.1:9090"
cors_origins = ["http://localhost:3000"]
# Empty admits every certificate the CA vouches for.
allowed_peers = []

tls_cert_file = "certs/server.crt"
tls_key_file = "certs/server.key"
tls_ca_file = "certs/ca.crt"

handshake_timeout_ms = 5000
# 0 blocks until the peer closes.
read_timeout_ms = 0
write_timeout_ms = 0
max_frame_size = 0

[[routes]]
tipo = "PING"
reply = "PONG"
`

const agentTemplate = `agent_id = "agent.local"
address = "127.0.0.1:8080"
server_name = "localhost"

tls_cert_file = "certs/client.crt"
tls_key_file = "certs/client.key"
tls_ca_file = "certs/ca.crt"

connect_timeout_ms = 5000
handshake_timeout_ms = 5000
read_timeout_ms = 10000
write_timeout_ms = 5000
`
