package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/nestbay/realtime/pkg/presence"
)

type presenceRequest struct {
	UserIDs []string `json:"user_ids"`
}

// PresenceHandler returns the current presence records for a batch of user
// ids. Users with no record come back as offline.
func PresenceHandler(statuses *presence.RedisStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req presenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if len(req.UserIDs) == 0 || len(req.UserIDs) > 100 {
			http.Error(w, "user_ids must contain between 1 and 100 entries", http.StatusBadRequest)
			return
		}

		records, err := statuses.Get(r.Context(), req.UserIDs)
		if err != nil {
			log.Printf("Failed to fetch presence: %v", err)
			http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}
