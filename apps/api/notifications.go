package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nestbay/realtime/pkg/auth"
	"github.com/nestbay/realtime/pkg/db"
	"github.com/nestbay/realtime/pkg/model"
)

// NotificationsHandler returns the caller's archived notifications, newest
// first, so a reconnecting client can catch up on pushes it missed.
func NotificationsHandler(notifications *db.NotificationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := r.Context().Value(auth.IdentityKey).(model.Identity)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		out, err := notifications.Recent(r.Context(), identity.ID, limit)
		if err != nil {
			http.Error(w, "Failed to list notifications", http.StatusInternalServerError)
			return
		}
		if out == nil {
			out = []model.Notification{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}
