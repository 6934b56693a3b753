package main

import (
	"log"

	"github.com/nestbay/realtime/pkg/config"
	"github.com/nestbay/realtime/pkg/db"
)

func main() {
	cfg := config.Load()

	session, err := db.Bootstrap(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatalf("Failed to bootstrap schema: %v", err)
	}
	defer session.Close()

	log.Printf("Keyspace %q ready.", cfg.Keyspace)
}
