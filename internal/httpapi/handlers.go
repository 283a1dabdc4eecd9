package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rmacdonaldsmith/refspace-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	store     refspace.Store
	link      peerlink.PeerLink
	jwtAuth   *JWTAuth
	secretKey string
}

// NewHandlers creates a new handlers instance. link may be nil.
func NewHandlers(store refspace.Store, link peerlink.PeerLink, jwtAuth *JWTAuth, secretKey string) *Handlers {
	return &Handlers{
		store:     store,
		link:      link,
		jwtAuth:   jwtAuth,
		secretKey: secretKey,
	}
}

// Login handles POST /api/v1/auth/login. Clients presenting the node
// secret get the admin scope, everyone else read access.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		writeError(w, "Content-Type must be application/json", http.StatusBadRequest)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		writeError(w, "clientId is required", http.StatusBadRequest)
		return
	}

	scopes := []string{ScopeRead}
	if req.Secret != "" {
		if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.secretKey)) != 1 {
			writeError(w, "Invalid secret", http.StatusUnauthorized)
			return
		}
		scopes = append(scopes, ScopeAdmin)
	}

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, scopes...)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Healthy:        true,
		NodeID:         h.store.ID(),
		Refs:           len(h.store.Descriptors()),
		ConnectedPeers: len(h.store.Peers()),
		PeerLink:       h.link != nil,
	}
	writeJSON(w, resp, http.StatusOK)
}

// ListRefs handles GET /api/v1/refs. The optional space and kind query
// parameters filter the result.
func (h *Handlers) ListRefs(w http.ResponseWriter, r *http.Request) {
	space := r.URL.Query().Get("space")
	kind := refspace.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, fmt.Sprintf("unknown kind %q", kind), http.StatusBadRequest)
		return
	}

	refs := make([]refspace.Descriptor, 0)
	for _, desc := range h.store.Descriptors() {
		if space != "" && desc.Space != space {
			continue
		}
		if kind != "" && desc.Kind != kind {
			continue
		}
		refs = append(refs, desc)
	}
	writeJSON(w, RefsResponse{Refs: refs, Count: len(refs)}, http.StatusOK)
}

// GetRef handles GET /api/v1/refs/{space}/{id}
func (h *Handlers) GetRef(w http.ResponseWriter, r *http.Request) {
	space, id := r.PathValue("space"), r.PathValue("id")
	handle, ok := h.store.Get(space, id)
	if !ok {
		writeError(w, fmt.Sprintf("reference %s/%s not found", space, id), http.StatusNotFound)
		return
	}
	writeJSON(w, handle.Descriptor(), http.StatusOK)
}

// ListPeers handles GET /api/v1/peers
func (h *Handlers) ListPeers(w http.ResponseWriter, r *http.Request) {
	addresses := make(map[string]string)
	if h.link != nil {
		nodes, err := h.link.GetConnectedPeers(r.Context())
		if err != nil {
			writeError(w, "Failed to list peers", http.StatusInternalServerError)
			return
		}
		for _, node := range nodes {
			addresses[node.ID()] = node.Address()
		}
	}

	peers := make([]PeerInfo, 0)
	for _, id := range h.store.Peers() {
		info := PeerInfo{ID: id, Address: addresses[id], Health: "Registered"}
		if h.link != nil {
			if state, err := h.link.GetPeerHealth(r.Context(), id); err == nil {
				info.Health = state.String()
			}
		}
		peers = append(peers, info)
	}
	writeJSON(w, PeersResponse{Peers: peers}, http.StatusOK)
}

// DisconnectPeer handles DELETE /api/v1/peers/{id}
func (h *Handlers) DisconnectPeer(w http.ResponseWriter, r *http.Request) {
	if h.link == nil {
		writeError(w, "No peer link configured", http.StatusNotImplemented)
		return
	}
	id := r.PathValue("id")
	if err := h.link.Disconnect(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, peerlink.ErrPeerNotConnected) {
			status = http.StatusNotFound
		}
		writeError(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError writes an error response as JSON
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// headers are already out; nothing else to report
		return
	}
}
