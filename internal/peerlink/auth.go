package peerlink

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PeerClaims are the handshake token claims
type PeerClaims struct {
	NodeID string `json:"node_id"`
	jwt.RegisteredClaims
}

// TokenAuth creates and validates handshake tokens
type TokenAuth struct {
	secretKey []byte
	ttl       time.Duration
}

// NewTokenAuth creates a handshake token handler
func NewTokenAuth(secretKey string, ttl time.Duration) *TokenAuth {
	return &TokenAuth{
		secretKey: []byte(secretKey),
		ttl:       ttl,
	}
}

// GenerateToken creates a token asserting nodeID
func (a *TokenAuth) GenerateToken(nodeID string) (string, error) {
	if nodeID == "" {
		return "", errors.New("nodeID cannot be empty")
	}

	now := time.Now()
	claims := PeerClaims{
		NodeID: nodeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   nodeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to create token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken validates a token and returns its claims
func (a *TokenAuth) ValidateToken(tokenString string) (*PeerClaims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, errors.New("token cannot be empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &PeerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*PeerClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid claims")
	}
	if claims.NodeID == "" {
		return nil, errors.New("token has no node ID")
	}
	return claims, nil
}
