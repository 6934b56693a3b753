package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/nestbay/realtime/pkg/auth"
	"github.com/nestbay/realtime/pkg/db"
	"github.com/nestbay/realtime/pkg/model"
)

// HistoryHandler pages backwards through a conversation. Only participants
// may read history; everyone else gets a 403 without learning whether the
// conversation exists.
func HistoryHandler(chats *db.ChatStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := r.Context().Value(auth.IdentityKey).(model.Identity)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conversationID := r.URL.Query().Get("conversation_id")
		if conversationID == "" {
			http.Error(w, "conversation_id is required", http.StatusBadRequest)
			return
		}
		before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		conv, err := chats.Conversation(r.Context(), conversationID)
		if err != nil || !conv.HasParticipant(identity.ID) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		messages, err := chats.History(r.Context(), conversationID, before, limit)
		if err != nil {
			log.Printf("Failed to read history for %s: %v", conversationID, err)
			http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
			return
		}
		if messages == nil {
			messages = []model.Message{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messages)
	}
}

type LoginRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// LoginHandler mints a development token. Production deployments sit behind
// the marketplace's own identity provider and never expose this route.
func LoginHandler(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if req.UserID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		role := model.Role(req.Role)
		if role != model.RoleAgent && role != model.RoleAdmin {
			role = model.RoleCustomer
		}

		token, err := auth.Sign(secret, model.Identity{
			ID:    req.UserID,
			Name:  req.Name,
			Email: req.Email,
			Role:  role,
		}, 24*time.Hour)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(LoginResponse{Token: token})
	}
}
