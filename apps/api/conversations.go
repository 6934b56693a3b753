package main

import (
	"encoding/json"
	"net/http"

	"github.com/nestbay/realtime/pkg/auth"
	"github.com/nestbay/realtime/pkg/db"
	"github.com/nestbay/realtime/pkg/model"
)

// ConversationsHandler returns the caller's inbox: every conversation they
// participate in, newest activity first.
func ConversationsHandler(chats *db.ChatStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := r.Context().Value(auth.IdentityKey).(model.Identity)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conversations, err := chats.ConversationsFor(r.Context(), identity.ID)
		if err != nil {
			http.Error(w, "Failed to retrieve conversations", http.StatusInternalServerError)
			return
		}
		if conversations == nil {
			conversations = []model.Conversation{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(conversations)
	}
}
