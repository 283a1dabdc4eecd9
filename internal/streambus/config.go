package streambus

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for a stream Bus
type Config struct {
	// PeerID is announced to the other side in the hello frame.
	PeerID string

	// Client selects the yamux client role. Exactly one side of a
	// connection must be the client.
	Client bool

	// MaxFrameSize bounds control frames and records.
	MaxFrameSize uint32

	Logger *zerolog.Logger
}

// NewConfig creates a new Bus configuration
func NewConfig(peerID string, client bool) *Config {
	return &Config{PeerID: peerID, Client: client}
}

// WithLogger sets the logger
func (c *Config) WithLogger(logger zerolog.Logger) *Config {
	c.Logger = &logger
	return c
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PeerID == "" {
		return errors.New("peer ID cannot be empty")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = 8 * 1024 * 1024 // 8MB
	}
	if c.Logger == nil {
		logger := log.Logger.With().Str("component", "streambus").Logger()
		c.Logger = &logger
	}
}
