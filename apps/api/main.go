package main

import (
	"context"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/nestbay/realtime/pkg/auth"
	"github.com/nestbay/realtime/pkg/config"
	"github.com/nestbay/realtime/pkg/db"
	"github.com/nestbay/realtime/pkg/presence"
)

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // Allow all for dev, or specific origin
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware verifies the bearer token and stores the identity in the
// request context for handlers to read.
func AuthMiddleware(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := verifier.Verify(auth.BearerToken(r))
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), auth.IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func main() {
	cfg := config.Load()

	session, err := db.Dial(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	authed := AuthMiddleware(verifier)

	chats := db.NewChatStore(session)
	tickets := db.NewTicketStore(session)
	notifications := db.NewNotificationStore(session)
	statuses := presence.NewRedisStore(rdb, cfg.PresenceTTL)

	log.Printf("API Service Starting on %s...", cfg.APIAddr)

	// Public endpoint
	http.Handle("/login", CORSMiddleware(LoginHandler(cfg.JWTSecret)))

	// Protected endpoints
	http.Handle("/history", CORSMiddleware(authed(HistoryHandler(chats))))
	http.Handle("/conversations", CORSMiddleware(authed(ConversationsHandler(chats))))
	http.Handle("/tickets", CORSMiddleware(authed(TicketsHandler(tickets))))
	http.Handle("/notifications", CORSMiddleware(authed(NotificationsHandler(notifications))))
	http.Handle("/presence/statuses", CORSMiddleware(authed(PresenceHandler(statuses))))

	if err := http.ListenAndServe(cfg.APIAddr, nil); err != nil {
		log.Fatal(err)
	}
}
