package handlers

import (
	"encoding/json"
	"net/http"

	"watchparty/hub"
)

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// ServeHealth reports liveness and the live session count.
func ServeHealth(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthResponse{
			Status:   "ok",
			Sessions: h.Count(),
		})
	}
}
