// Package config loads node settings for the refspace binary from TOML.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// NodeConfig is the runtime configuration of one refspace node.
type NodeConfig struct {
	// ID is the store id; empty means generate one
	ID string

	// Listen is the TCP address for stream bus clients
	Listen string

	// GRPCListen is the peer link address; empty disables the link
	GRPCListen string

	// HTTPListen is the introspection API address; empty disables it
	HTTPListen string

	// Secret signs peer handshake and API tokens
	Secret string

	// Peers are static seeds, "id@address" or "address"
	Peers []string

	LogLevel string
	NoAuth   bool
}

// fileConfig is the config.toml key mapping.
type fileConfig struct {
	ID         string   `toml:"id"`
	Listen     string   `toml:"listen"`
	GRPCListen string   `toml:"grpc_listen"`
	HTTPListen string   `toml:"http_listen"`
	Secret     string   `toml:"secret"`
	Peers      []string `toml:"peers"`
	LogLevel   string   `toml:"log_level"`
	NoAuth     bool     `toml:"no_auth"`
}

// Default returns the settings used when no file overrides them.
func Default() NodeConfig {
	return NodeConfig{
		Listen:     "127.0.0.1:7300",
		GRPCListen: "",
		HTTPListen: "127.0.0.1:7380",
		LogLevel:   "info",
	}
}

// Load reads path and overlays its keys on Default. Keys absent from the
// file keep their defaults.
func Load(path string) (NodeConfig, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("load node config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return NodeConfig{}, fmt.Errorf("load node config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("id") {
		cfg.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("grpc_listen") {
		cfg.GRPCListen = strings.TrimSpace(raw.GRPCListen)
	}
	if meta.IsDefined("http_listen") {
		cfg.HTTPListen = strings.TrimSpace(raw.HTTPListen)
	}
	if meta.IsDefined("secret") {
		cfg.Secret = raw.Secret
	}
	if meta.IsDefined("peers") {
		cfg.Peers = nil
		for _, peer := range raw.Peers {
			if peer = strings.TrimSpace(peer); peer != "" {
				cfg.Peers = append(cfg.Peers, peer)
			}
		}
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("no_auth") {
		cfg.NoAuth = raw.NoAuth
	}

	if err := cfg.Validate(); err != nil {
		return NodeConfig{}, fmt.Errorf("load node config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c NodeConfig) Validate() error {
	if c.Listen == "" && c.GRPCListen == "" {
		return errors.New("one of listen or grpc_listen is required")
	}
	if strings.ContainsAny(c.ID, " \t\r\n") {
		return fmt.Errorf("id %q contains whitespace", c.ID)
	}
	if c.GRPCListen != "" && c.Secret == "" {
		return errors.New("secret is required when grpc_listen is set")
	}
	if c.HTTPListen != "" && c.Secret == "" && !c.NoAuth {
		return errors.New("secret is required for the HTTP API unless no_auth is set")
	}
	if len(c.Peers) > 0 && c.GRPCListen == "" {
		return errors.New("peers require grpc_listen")
	}
	return nil
}
