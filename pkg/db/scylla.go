// Package db is the record-store layer: conversations, messages, read
// markers and tickets in ScyllaDB.
package db

import (
	"fmt"
	"log"
	"time"

	"github.com/gocql/gocql"
)

type Session struct {
	*gocql.Session
}

func Dial(hosts []string, keyspace string) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	log.Println("Connected to ScyllaDB cluster")
	return &Session{Session: session}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id text PRIMARY KEY,
		type text,
		participants set<text>,
		listing_id text,
		last_message text,
		last_sender text,
		last_activity timestamp,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		conversation_id text,
		PRIMARY KEY (user_id, conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id text,
		id bigint,
		sender_id text,
		content text,
		kind text,
		attachment text,
		created_at timestamp,
		edited boolean,
		deleted boolean,
		read boolean,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	`CREATE TABLE IF NOT EXISTS read_markers (
		conversation_id text,
		user_id text,
		last_read bigint,
		PRIMARY KEY (conversation_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id text PRIMARY KEY,
		requester_id text,
		requester_name text,
		subject text,
		status text,
		agent_id text,
		created_at timestamp,
		updated_at timestamp
	)`,
	`CREATE INDEX IF NOT EXISTS tickets_by_status ON tickets (status)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		user_id text,
		id timeuuid,
		event text,
		payload text,
		created_at timestamp,
		PRIMARY KEY (user_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
}

// Bootstrap creates the keyspace and tables if needed and returns a live
// session bound to the keyspace.
func Bootstrap(hosts []string, keyspace string) (*Session, error) {
	sys, err := Dial(hosts, "system")
	if err != nil {
		return nil, err
	}
	createKeyspace := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`,
		keyspace)
	if err := sys.Query(createKeyspace).Exec(); err != nil {
		sys.Close()
		return nil, fmt.Errorf("create keyspace: %w", err)
	}
	sys.Close()

	session, err := Dial(hosts, keyspace)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if err := session.Query(stmt).Exec(); err != nil {
			session.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return session, nil
}
