package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/nestbay/realtime/pkg/auth"
	"github.com/nestbay/realtime/pkg/chat"
	"github.com/nestbay/realtime/pkg/config"
	"github.com/nestbay/realtime/pkg/db"
	"github.com/nestbay/realtime/pkg/limiter"
	"github.com/nestbay/realtime/pkg/presence"
	"github.com/nestbay/realtime/pkg/queue"
	"github.com/nestbay/realtime/pkg/snowflake"
)

func main() {
	f, err := os.OpenFile("gateway.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening file: %v", err)
	}
	defer f.Close()
	log.SetOutput(f)

	cfg := config.Load()

	session, err := db.Bootstrap(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatalf("scylla bootstrap: %v", err)
	}
	defer session.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	nodeID, _ := strconv.ParseInt(os.Getenv("GATEWAY_NODE_ID"), 10, 64)
	ids, err := snowflake.NewNode(nodeID)
	if err != nil {
		log.Fatalf("snowflake node: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var lim limiter.Limiter
	if os.Getenv("LIMITER") == "redis" {
		lim = limiter.NewRedisSlidingWindow(rdb, cfg.Limits)
	} else {
		sw := limiter.NewSlidingWindow(cfg.Limits)
		go sw.Run(ctx)
		lim = sw
	}

	hub := NewHub(cfg.KafkaBrokers, cfg.KafkaTopic)
	go hub.Run(ctx)

	tracker := presence.NewTracker(presence.NewRedisStore(rdb, cfg.PresenceTTL), hub)
	chatSvc := chat.NewService(db.NewChatStore(session), lim, hub, ids)
	coord := queue.NewCoordinator(db.NewTicketStore(session), hub)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	gw := NewGateway(hub, verifier, tracker, chatSvc, coord)

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(gw, w, r)
	})

	log.Printf("Gateway Service Starting on %s...", cfg.GatewayAddr)
	if err := http.ListenAndServe(cfg.GatewayAddr, nil); err != nil {
		log.Fatal(err)
	}
}
