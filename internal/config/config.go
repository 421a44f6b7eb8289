package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Gateway config file keys, as written by the gateway template.
type GatewayConfig struct {
	ID                 string   `toml:"id"`
	ListenAddr         string   `toml:"listen_addr"`
	Path               string   `toml:"path"`
	AdminListenAddr    string   `toml:"admin_listen_addr"`
	CorsOrigins        []string `toml:"cors_origins"`
	AllowedPeers       []string `toml:"allowed_peers"`
	TLSCertFile        string   `toml:"tls_cert_file"`
	TLSKeyFile         string   `toml:"tls_key_file"`
	TLSCAFile          string   `toml:"tls_ca_file"`
	HandshakeTimeoutMS int64    `toml:"handshake_timeout_ms"`
	ReadTimeoutMS      int64    `toml:"read_timeout_ms"`
	WriteTimeoutMS     int64    `toml:"write_timeout_ms"`
	MaxFrameSize       int64    `toml:"max_frame_size"`
	Routes             []Route  `toml:"routes"`
}

// Route maps an envelope tipo to a reply tipo on the gateway router.
type Route struct {
	Tipo  string `toml:"tipo"`
	Reply string `toml:"reply"`
}

// Agent config file keys, as written by the agent template.
type AgentConfig struct {
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

func LoadGatewayConfig(path string) (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := loadToml(path, &cfg); err != nil {
		return GatewayConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = "gateway.local"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0:8080"
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if err := ValidateGatewayConfig(cfg); err != nil {
		return GatewayConfig{}, err
	}
	return cfg, nil
}

func LoadAgentConfig(path string) (AgentConfig, error) {
	var cfg AgentConfig
	if err := loadToml(path, &cfg); err != nil {
		return AgentConfig{}, err
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8080"
	}
	if err := ValidateAgentConfig(cfg); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

// loadToml rejects keys the target struct does not declare, so typos fail loudly.
func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %s", path, strings.TrimSpace(strict.String()))
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateGatewayConfig(cfg GatewayConfig) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("gateway config missing listen_addr")
	}
	if !strings.HasPrefix(strings.TrimSpace(cfg.Path), "/") {
		return fmt.Errorf("gateway config path must start with /")
	}
	if err := validateTLSFiles(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSCAFile); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	if err := validateNonNegative(map[string]int64{
		"handshake_timeout_ms": cfg.HandshakeTimeoutMS,
		"read_timeout_ms":      cfg.ReadTimeoutMS,
		"write_timeout_ms":     cfg.WriteTimeoutMS,
		"max_frame_size":       cfg.MaxFrameSize,
	}); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	for i, route := range cfg.Routes {
		if strings.TrimSpace(route.Tipo) == "" || strings.TrimSpace(route.Reply) == "" {
			return fmt.Errorf("routes[%d] invalid: tipo and reply are required", i)
		}
	}
	return nil
}

func ValidateAgentConfig(cfg AgentConfig) error {
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("agent config missing address")
	}
	if p := strings.TrimSpace(cfg.Path); p != "" && !strings.HasPrefix(p, "/") {
		return fmt.Errorf("agent config path must start with /")
	}
	if err := validateTLSFiles(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSCAFile); err != nil {
		return fmt.Errorf("agent config: %w", err)
	}
	if err := validateNonNegative(map[string]int64{
		"connect_timeout_ms":   cfg.ConnectTimeoutMS,
		"handshake_timeout_ms": cfg.HandshakeTimeoutMS,
		"read_timeout_ms":      cfg.ReadTimeoutMS,
		"write_timeout_ms":     cfg.WriteTimeoutMS,
	}); err != nil {
		return fmt.Errorf("agent config: %w", err)
	}
	return nil
}

func validateTLSFiles(cert, key, ca string) error {
	switch {
	case strings.TrimSpace(cert) == "":
		return fmt.Errorf("tls_cert_file is required")
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("tls_key_file is required")
	case strings.TrimSpace(ca) == "":
		return fmt.Errorf("tls_ca_file is required")
	}
	return nil
}

func validateNonNegative(fields map[string]int64) error {
	for key, v := range fields {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
	}
	return nil
}
