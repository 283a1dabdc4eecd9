package refstore

import (
	"errors"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// idAlphabet is the no-lookalikes alphabet used for generated store ids.
const idAlphabet = "346789ABCDEFGHJKLMNPQRTUVWXYabcdefghijkmnpqrtwxyz"

// idLength is the length of generated store ids.
const idLength = 8

// ErrInvalidStoreID is returned when a configured store id contains whitespace
var ErrInvalidStoreID = errors.New("store ID cannot contain whitespace")

// Config holds configuration for a Store
type Config struct {
	// ID is this store's peer id. Generated when empty.
	ID string

	// Logger receives store diagnostics. Defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// NewConfig creates a new Store configuration for the given peer id
func NewConfig(id string) *Config {
	return &Config{ID: id}
}

// WithLogger sets the logger
func (c *Config) WithLogger(logger zerolog.Logger) *Config {
	c.Logger = &logger
	return c
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.ContainsAny(c.ID, " \t\r\n") {
		return ErrInvalidStoreID
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.ID == "" {
		c.ID = NewPeerID()
	}
	if c.Logger == nil {
		logger := log.Logger.With().Str("component", "refstore").Logger()
		c.Logger = &logger
	}
}

// NewPeerID generates a short random peer id.
func NewPeerID() string {
	return gonanoid.MustGenerate(idAlphabet, idLength)
}
