package peerlink

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
)

// Config holds configuration for PeerLink component
type Config struct {
	NodeID        string
	ListenAddress string

	// SecretKey signs and verifies handshake tokens. Both sides must share it.
	SecretKey string
	TokenTTL  time.Duration

	SendQueueSize     int
	HeartbeatInterval time.Duration
	MaxMessageSize    int

	// DialOptions are appended to the options used by Connect
	DialOptions []grpc.DialOption

	Logger *zerolog.Logger
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("node ID cannot be empty")
	}
	if c.ListenAddress == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.SecretKey == "" {
		return errors.New("secret key cannot be empty")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 1000
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4 * 1024 * 1024 // 4MB
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 5 * time.Minute
	}
	if c.Logger == nil {
		logger := log.Logger.With().Str("component", "peerlink").Logger()
		c.Logger = &logger
	}
}
