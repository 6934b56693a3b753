package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nestbay/realtime/pkg/config"
	"github.com/nestbay/realtime/pkg/db"
)

func main() {
	cfg := config.Load()

	session, err := db.Bootstrap(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, db.NewNotificationStore(session))
	defer consumer.Close()

	log.Println("Starting notification archiver...")
	consumer.Consume(ctx)
}
