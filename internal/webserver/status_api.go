package webserver

import (
	"encoding/json"
	"net/http"

	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"github.com/nantokaworks/gift-relay/internal/types"
	"go.uber.org/zap"
)

// RegisterStatusRoutes exposes threshold and lease state, per-lease
// cancellation, and the explicit restore-all trigger.
func RegisterStatusRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", corsMiddleware(handleStatus))
	mux.HandleFunc("/api/leases", corsMiddleware(handleLeases))
	mux.HandleFunc("/api/restore-all", corsMiddleware(handleRestoreAll))
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	statuses := []types.ThresholdStatus{}
	if deps.Accumulator != nil {
		statuses = deps.Accumulator.Status()
	}
	writeJSON(w, map[string]any{"thresholds": statuses})
}

func handleLeases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if deps.Restoration == nil {
			writeJSON(w, map[string]any{"leases": []any{}})
			return
		}
		writeJSON(w, map[string]any{"leases": deps.Restoration.ListActive()})

	case http.MethodDelete:
		item := r.URL.Query().Get("item")
		if item == "" {
			http.Error(w, "item is required", http.StatusBadRequest)
			return
		}
		if deps.Restoration == nil {
			http.Error(w, "restoration manager not available", http.StatusServiceUnavailable)
			return
		}
		if err := deps.Restoration.Cancel(r.Context(), item); err != nil {
			logger.Warn("Lease cancellation finished with errors",
				zap.String("item", item), zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"status": "cancelled"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func handleRestoreAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if deps.Restoration == nil {
		http.Error(w, "restoration manager not available", http.StatusServiceUnavailable)
		return
	}

	if err := deps.Restoration.RestoreAll(r.Context()); err != nil {
		logger.Warn("Restore-all request finished with errors", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"status": "restored"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}
