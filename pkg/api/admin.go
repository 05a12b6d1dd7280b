package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/ngoyal88/relay/pkg/exchanges"
)

// AdminAPI exposes recorded exchanges to operators.
type AdminAPI struct {
	repo     exchanges.Repository
	adminKey string // Simple admin authentication
}

// NewAdminAPI creates a new admin API handler. repo may be nil when exchange
// recording is disabled.
func NewAdminAPI(repo exchanges.Repository, adminKey string) *AdminAPI {
	return &AdminAPI{
		repo:     repo,
		adminKey: adminKey,
	}
}

// RegisterRoutes registers admin endpoints
func (api *AdminAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/exchanges", api.authenticate(api.handleExchanges))

	// System
	mux.HandleFunc("/admin/health", api.handleHealth)
}

// authenticate middleware checks admin key
func (api *AdminAPI) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Admin-Key")
		if api.adminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(api.adminKey)) != 1 {
			respondJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid admin key",
			})
			return
		}
		next(w, r)
	}
}

// handleExchanges returns the retained exchanges, newest first.
func (api *AdminAPI) handleExchanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if api.repo == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "Exchange recording not enabled",
		})
		return
	}

	list := api.repo.FindAll()

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		if limit < len(list) {
			list = list[:limit]
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"exchanges": list,
		"count":     len(list),
	})
}

// handleHealth returns system health
func (api *AdminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"exchanges": api.repo != nil,
	}
	respondJSON(w, http.StatusOK, health)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
