package webserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nantokaworks/gift-relay/internal/localdb"
	"github.com/nantokaworks/gift-relay/internal/types"
)

// RegisterConfigRoutes exposes CRUD for mappings, thresholds and
// renames. Changes take effect at the next session start; the running
// session keeps the snapshot it was created with.
func RegisterConfigRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/mappings", corsMiddleware(handleMappings))
	mux.HandleFunc("/api/thresholds", corsMiddleware(handleThresholds))
	mux.HandleFunc("/api/overrides", corsMiddleware(handleOverrides))
}

func handleMappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		mappings, err := localdb.GetActionMappings()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, mappings)

	case http.MethodPost:
		var req struct {
			GiftName string                 `json:"giftName"`
			Action   types.ActionDescriptor `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GiftName == "" {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := localdb.SetActionMapping(req.GiftName, req.Action); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "saved"})

	case http.MethodDelete:
		giftName := r.URL.Query().Get("giftName")
		if giftName == "" {
			http.Error(w, "giftName is required", http.StatusBadRequest)
			return
		}
		if err := localdb.DeleteActionMapping(giftName); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		configs, err := localdb.LoadThresholdConfigs()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, configs)

	case http.MethodPost:
		var cfg types.ThresholdConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := localdb.SaveThresholdConfig(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{"status": "saved"})

	case http.MethodDelete:
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "key is required", http.StatusBadRequest)
			return
		}
		if err := localdb.DeleteThresholdConfig(key); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func handleOverrides(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		overrides, err := localdb.ListNameOverrides()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, overrides)

	case http.MethodPost:
		var o types.NameOverride
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := localdb.SetNameOverride(o); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{"status": "saved"})

	case http.MethodDelete:
		coinValue, err := strconv.Atoi(r.URL.Query().Get("coinValue"))
		originalName := r.URL.Query().Get("originalName")
		if err != nil || originalName == "" {
			http.Error(w, "coinValue and originalName are required", http.StatusBadRequest)
			return
		}
		if err := localdb.DeleteNameOverride(coinValue, originalName); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
