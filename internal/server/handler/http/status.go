package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/atinyakov/ShareKeeper/internal/models"
	"github.com/atinyakov/ShareKeeper/internal/server"
	"github.com/go-chi/chi/v5"
)

// ShareInspector reads share metadata without consuming a read.
type ShareInspector interface {
	Inspect(ctx context.Context, key uint32) (models.ShareState, bool, error)
	Count(ctx context.Context) (int, error)
}

// ServerState reports the wire listener's health and counters.
type ServerState interface {
	Ready() bool
	Stats() server.Stats
}

// StatusHandler serves health and metadata endpoints. It never returns
// share values.
type StatusHandler struct {
	Shares ShareInspector
	Server ServerState
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Keys        int          `json:"keys"`
	Connections server.Stats `json:"connections"`
}

// ShareResponse is the body of GET /api/shares/{key}.
type ShareResponse struct {
	Key      string `json:"key"`
	Versions int    `json:"versions"`
	Cursor   int    `json:"cursor"`
}

// Livez always answers 200.
func (h *StatusHandler) Livez(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// Readyz answers 200 while the wire listener accepts connections and 503
// otherwise.
func (h *StatusHandler) Readyz(w http.ResponseWriter, _ *http.Request) {
	if !h.Server.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

// Stats handles GET /api/stats.
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	n, err := h.Shares.Count(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, StatsResponse{Keys: n, Connections: h.Server.Stats()})
}

// Share handles GET /api/shares/{key}, where key is hex.
func (h *StatusHandler) Share(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(strings.ToLower(chi.URLParam(r, "key")), "0x")
	key, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		http.Error(w, "invalid key", http.StatusBadRequest)
		return
	}

	st, ok, err := h.Shares.Inspect(r.Context(), uint32(key))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, ShareResponse{
		Key:      strconv.FormatUint(key, 16),
		Versions: st.Versions,
		Cursor:   st.Cursor,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
