package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/refspace-go/internal/localbus"
	"github.com/rmacdonaldsmith/refspace-go/internal/refstore"
	"github.com/rmacdonaldsmith/refspace-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

const testSecret = "test-secret-key"

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Store  *refstore.Store
	Server *Server
	Auth   *JWTAuth
}

func newTestStore(t *testing.T, id string) *refstore.Store {
	t.Helper()
	s, err := refstore.NewStore(refstore.NewConfig(id).WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// NewTestServerSetup creates a store with a few entries and a server over it
func NewTestServerSetup(t *testing.T, link peerlink.PeerLink, noAuth bool) *TestServerSetup {
	t.Helper()
	store := newTestStore(t, "node-a")

	_, err := store.Export(&refspace.Object{
		Values: map[string]any{"name": "echo"},
		Methods: map[string]refspace.Func{
			"upper": func(ctx context.Context, args ...any) (any, error) { return nil, nil },
		},
	}, refspace.WithRef("api", "echo"))
	require.NoError(t, err)
	_, err = store.Export(refspace.Func(func(ctx context.Context, args ...any) (any, error) {
		return nil, nil
	}))
	require.NoError(t, err)

	logger := zerolog.Nop()
	server, err := NewServer(store, link, Config{
		Address:   "127.0.0.1:0",
		SecretKey: testSecret,
		NoAuth:    noAuth,
		Logger:    &logger,
	})
	require.NoError(t, err)
	return &TestServerSetup{Store: store, Server: server, Auth: server.jwtAuth}
}

func (setup *TestServerSetup) do(t *testing.T, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	setup.Server.Handler().ServeHTTP(w, req)
	return w
}

func (setup *TestServerSetup) token(t *testing.T, scopes ...string) string {
	t.Helper()
	token, _, err := setup.Auth.GenerateToken("tester", scopes...)
	require.NoError(t, err)
	return token
}

// fakeLink reports one peer and records disconnects
type fakeLink struct {
	peerlink.PeerLink
	disconnected []string
}

type fakeNode struct{ id, address string }

func (n fakeNode) ID() string      { return n.id }
func (n fakeNode) Address() string { return n.address }
func (n fakeNode) IsHealthy() bool { return true }

func (f *fakeLink) GetConnectedPeers(ctx context.Context) ([]peerlink.PeerNode, error) {
	return []peerlink.PeerNode{fakeNode{id: "node-b", address: "10.0.0.2:7400"}}, nil
}

func (f *fakeLink) GetPeerHealth(ctx context.Context, peerID string) (peerlink.PeerHealthState, error) {
	if peerID == "node-b" {
		return peerlink.PeerHealthy, nil
	}
	return peerlink.PeerDisconnected, nil
}

func (f *fakeLink) Disconnect(ctx context.Context, peerID string) error {
	if peerID != "node-b" {
		return peerlink.ErrPeerNotConnected
	}
	f.disconnected = append(f.disconnected, peerID)
	return nil
}

func TestNewServer(t *testing.T) {
	store := newTestStore(t, "node-a")

	_, err := NewServer(nil, nil, Config{Address: ":0", SecretKey: "s"})
	assert.Error(t, err)
	_, err = NewServer(store, nil, Config{SecretKey: "s"})
	assert.Error(t, err)
	_, err = NewServer(store, nil, Config{Address: ":0"})
	assert.Error(t, err)

	server, err := NewServer(store, nil, Config{Address: ":0", SecretKey: "s"})
	require.NoError(t, err)
	assert.NotNil(t, server.handlers)
	assert.NotNil(t, server.middleware)
}

func TestJWTAuth(t *testing.T) {
	auth := NewJWTAuth("test-secret", 0)

	token, expiresAt, err := auth.GenerateToken("client", ScopeRead)
	require.NoError(t, err)
	assert.False(t, expiresAt.IsZero())

	claims, err := auth.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "client", claims.ClientID)
	assert.True(t, claims.HasScope(ScopeRead))
	assert.False(t, claims.HasScope(ScopeAdmin))

	_, err = NewJWTAuth("other", 0).ValidateToken(token)
	assert.Error(t, err)
	_, _, err = auth.GenerateToken("")
	assert.Error(t, err)
}

func TestServer_Health(t *testing.T) {
	setup := NewTestServerSetup(t, nil, false)

	w := setup.do(t, http.MethodGet, "/api/v1/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Healthy)
	assert.Equal(t, "node-a", resp.NodeID)
	assert.Equal(t, 2, resp.Refs)
	assert.Equal(t, 0, resp.ConnectedPeers)
	assert.False(t, resp.PeerLink)
}

func TestServer_Login(t *testing.T) {
	setup := NewTestServerSetup(t, nil, false)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantScopes []string
	}{
		{"read client", `{"clientId":"alice"}`, http.StatusOK, []string{ScopeRead}},
		{"admin client", `{"clientId":"ops","secret":"` + testSecret + `"}`, http.StatusOK, []string{ScopeRead, ScopeAdmin}},
		{"wrong secret", `{"clientId":"ops","secret":"nope"}`, http.StatusUnauthorized, nil},
		{"missing client", `{}`, http.StatusBadRequest, nil},
		{"bad json", `{`, http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := setup.do(t, http.MethodPost, "/api/v1/auth/login", "", tt.body)
			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp AuthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantScopes, resp.Scopes)

			claims, err := setup.Auth.ValidateToken(resp.Token)
			require.NoError(t, err)
			assert.Equal(t, tt.wantScopes, claims.Scopes)
		})
	}
}

func TestServer_Refs(t *testing.T) {
	setup := NewTestServerSetup(t, nil, false)
	token := setup.token(t, ScopeRead)

	w := setup.do(t, http.MethodGet, "/api/v1/refs", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = setup.do(t, http.MethodGet, "/api/v1/refs", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp RefsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)

	w = setup.do(t, http.MethodGet, "/api/v1/refs?space=api", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp = RefsResponse{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "echo", resp.Refs[0].ID)
	assert.Equal(t, refspace.KindObject, resp.Refs[0].Kind)
	assert.Equal(t, []string{"upper"}, resp.Refs[0].Methods)

	w = setup.do(t, http.MethodGet, "/api/v1/refs?kind=function", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp = RefsResponse{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, refspace.AnonSpace, resp.Refs[0].Space)

	w = setup.do(t, http.MethodGet, "/api/v1/refs?kind=widget", token, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = setup.do(t, http.MethodGet, "/api/v1/refs/api/echo", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	var desc refspace.Descriptor
	require.NoError(t, json.NewDecoder(w.Body).Decode(&desc))
	assert.Equal(t, "node-a", desc.Peer)
	assert.Equal(t, "echo", desc.Values["name"])

	w = setup.do(t, http.MethodGet, "/api/v1/refs/api/missing", token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_NoAuth(t *testing.T) {
	setup := NewTestServerSetup(t, &fakeLink{}, true)

	w := setup.do(t, http.MethodGet, "/api/v1/refs", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// admin endpoints keep requiring a token
	w = setup.do(t, http.MethodDelete, "/api/v1/peers/node-b", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_Peers(t *testing.T) {
	link := &fakeLink{}
	setup := NewTestServerSetup(t, link, false)
	other := newTestStore(t, "node-b")
	_, _, err := localbus.Connect(setup.Store, other)
	require.NoError(t, err)

	w := setup.do(t, http.MethodGet, "/api/v1/peers", setup.token(t, ScopeRead), "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp PeersResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, PeerInfo{ID: "node-b", Address: "10.0.0.2:7400", Health: "Healthy"}, resp.Peers[0])

	w = setup.do(t, http.MethodDelete, "/api/v1/peers/node-b", setup.token(t, ScopeRead), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := setup.token(t, ScopeAdmin)
	w = setup.do(t, http.MethodDelete, "/api/v1/peers/node-b", admin, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"node-b"}, link.disconnected)

	w = setup.do(t, http.MethodDelete, "/api/v1/peers/node-z", admin, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_DisconnectWithoutLink(t *testing.T) {
	setup := NewTestServerSetup(t, nil, false)
	w := setup.do(t, http.MethodDelete, "/api/v1/peers/node-b", setup.token(t, ScopeAdmin), "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestServer_RootAndMetrics(t *testing.T) {
	setup := NewTestServerSetup(t, nil, false)

	w := setup.do(t, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "node-a")

	w = setup.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	setup.do(t, http.MethodGet, "/api/v1/health", "", "")
	w = setup.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "refspace_http_requests_total")
}
