package api

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/yourusername/toolgate/cache"
	"github.com/yourusername/toolgate/credential"
)

// AdminHandler serves the operational endpoints: credential health for the
// dashboard and the administrative cache purge. Never reachable from
// end-user-facing code paths; every route requires the configured token.
type AdminHandler struct {
	pool  *credential.Pool
	cache *cache.Cache
	token string
}

// NewAdminHandler creates the admin surface. With an empty token the routes
// stay registered but reject everything.
func NewAdminHandler(pool *credential.Pool, c *cache.Cache, token string) *AdminHandler {
	return &AdminHandler{pool: pool, cache: c, token: token}
}

// RegisterRoutes mounts the admin endpoints on router.
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/credentials", h.CredentialHealth).Methods("GET")
	router.HandleFunc("/admin/cache/clear", h.ClearCache).Methods("POST")
}

func (h *AdminHandler) authorized(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	got := r.Header.Get("X-Admin-Token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

// CredentialHealth returns the state of every pool credential. Read-only and
// side-effect free.
func (h *AdminHandler) CredentialHealth(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		sendError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid admin token")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"credentials": h.pool.Health(),
	})
}

// ClearCache purges the response cache.
func (h *AdminHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		sendError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid admin token")
		return
	}
	removed, err := h.cache.Clear(r.Context())
	if err != nil {
		log.Printf("admin: cache clear failed: %v", err)
		sendError(w, http.StatusInternalServerError, "clear_failed", "failed to clear cache")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"cleared": removed})
}
