package main

import (
	"fmt"
	"log"

	"github.com/nestbay/realtime/pkg/config"
	"github.com/nestbay/realtime/pkg/db"
)

// Drops the whole keyspace. Development only.
func main() {
	cfg := config.Load()

	session, err := db.Dial(cfg.ScyllaHosts, "system")
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	log.Printf("Dropping keyspace %s...", cfg.Keyspace)
	if err := session.Query(fmt.Sprintf("DROP KEYSPACE IF EXISTS %s", cfg.Keyspace)).Exec(); err != nil {
		log.Fatalf("Failed to drop keyspace: %v", err)
	}
	log.Println("Keyspace dropped successfully.")
}
