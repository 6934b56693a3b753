package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nestbay/realtime/pkg/auth"
	"github.com/nestbay/realtime/pkg/db"
	"github.com/nestbay/realtime/pkg/model"
)

// TicketsHandler lists support tickets by status. Agent capability required.
func TicketsHandler(tickets *db.TicketStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := r.Context().Value(auth.IdentityKey).(model.Identity)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !auth.HasCapability(identity, auth.CapabilityAgent) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		status := model.TicketStatus(r.URL.Query().Get("status"))
		if status == "" {
			status = model.TicketOpen
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		out, err := tickets.ByStatus(r.Context(), status, limit)
		if err != nil {
			http.Error(w, "Failed to list tickets", http.StatusInternalServerError)
			return
		}
		if out == nil {
			out = []model.Ticket{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}
