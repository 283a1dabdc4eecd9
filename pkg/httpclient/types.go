package httpclient

import (
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of a node's HTTP API (e.g., "http://localhost:7380")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Secret, when set, is presented at login to obtain the admin scope
	Secret string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy        bool   `json:"healthy"`
	NodeID         string `json:"nodeId"`
	Refs           int    `json:"refs"`
	ConnectedPeers int    `json:"connectedPeers"`
	PeerLink       bool   `json:"peerLink"`
}

// RefsResponse lists a node's table entries
type RefsResponse struct {
	Refs  []refspace.Descriptor `json:"refs"`
	Count int                   `json:"count"`
}

// PeerInfo describes one registered peer
type PeerInfo struct {
	ID      string `json:"id"`
	Address string `json:"address,omitempty"`
	Health  string `json:"health"`
}

// PeersResponse lists registered peers
type PeersResponse struct {
	Peers []PeerInfo `json:"peers"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// APIError is returned for responses with a 4xx or 5xx status
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
