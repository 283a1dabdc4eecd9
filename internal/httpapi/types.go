package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
	Secret   string `json:"secret"`
}

// AuthResponse represents a login response
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

// RefsResponse lists table entries
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
