package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires the HTTP surface: the WebSocket endpoint plus small
// read-only REST endpoints for listings and durable stats.
func NewRouter(h *Hub, version string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", h.ServeWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "version": version})
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions", h.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/{playerID}", h.handlePlayerStats).Methods(http.MethodGet)
	return r
}

// handleListSessions lists joinable public sessions. Private sessions never
// appear here; they are reachable by code only.
func (h *Hub) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.sessions.ListJoinable(r.Context())
	if err != nil {
		log.Printf("http: list sessions failed: %v", err)
		http.Error(w, "listing unavailable", http.StatusInternalServerError)
		return
	}
	type entry struct {
		SessionID string `json:"sessionId"`
		Code      string `json:"code"`
		Host      string `json:"host"`
		Seats     int    `json:"seats"`
	}
	out := make([]entry, 0, len(list))
	for _, s := range list {
		host := ""
		if len(s.Slots) > 0 {
			host = s.Slots[0].Identity.DisplayName
		}
		out = append(out, entry{SessionID: s.ID, Code: s.Code, Host: host, Seats: len(s.Slots)})
	}
	writeJSON(w, map[string]any{"sessions": out, "count": len(out)})
}

func (h *Hub) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	playerID := mux.Vars(r)["playerID"]
	st, err := h.stats.PlayerStats(r.Context(), playerID)
	if err != nil {
		log.Printf("http: stats for %s failed: %v", playerID, err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, st)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
