package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrNotAuthenticated is returned by calls that need a token before Authenticate
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// Client provides HTTP client for a node's introspection API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Authenticate logs in and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}
	if c.config.Secret != "" {
		authReq["secret"] = c.config.Secret
	}

	var authResp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", nil, authReq, &authResp, false); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	c.token = authResp.Token
	return nil
}

// GetHealth returns the health status of the node
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, nil, &resp, false); err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// ListRefs returns the node's table, optionally filtered by space and kind
func (c *Client) ListRefs(ctx context.Context, space, kind string) (*RefsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	query := url.Values{}
	if space != "" {
		query.Set("space", space)
	}
	if kind != "" {
		query.Set("kind", kind)
	}

	var resp RefsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/refs", query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list refs: %w", err)
	}
	return &resp, nil
}

// ListPeers returns the node's registered peers
func (c *Client) ListPeers(ctx context.Context) (*PeersResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp PeersResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/peers", nil, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}
	return &resp, nil
}

// DisconnectPeer drops the node's link to peerID (admin only)
func (c *Client) DisconnectPeer(ctx context.Context, peerID string) error {
	if c.token == "" {
		return ErrNotAuthenticated
	}

	path := "/api/v1/peers/" + url.PathEscape(peerID)
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, nil, nil, true); err != nil {
		return fmt.Errorf("failed to disconnect peer: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request with optional query parameters and authentication
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	u := &url.URL{Path: strings.TrimPrefix(path, "/")}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	base := *c.baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	fullURL := base.ResolveReference(u)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil && errResp.Message != "" {
			apiErr.Message = errResp.Message
		}
		return apiErr
	}

	if respBody != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// IsAuthenticated returns whether the client has a valid token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}
