package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nestbay/realtime/pkg/db"
	"github.com/nestbay/realtime/pkg/model"
	"github.com/nestbay/realtime/pkg/notify"
)

// envelope mirrors the wire form the gateways publish. Only per-user
// notification events are archived; room and broadcast traffic is already
// durable through the message store or purely ephemeral.
type envelope struct {
	Target  notify.Target   `json:"target"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Consumer struct {
	reader *kafka.Reader
	store  *db.NotificationStore
}

func NewConsumer(brokers []string, topic string, store *db.NotificationStore) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  "notification-archiver",
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: r, store: store}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Error reading message: %v. Retrying in 1s...", err)
			time.Sleep(1 * time.Second)
			continue
		}

		var env envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			log.Printf("Failed to unmarshal envelope: %v", err)
			continue
		}

		if env.Target.Kind != notify.TargetUser || env.Name != model.EventNewNotification {
			continue
		}

		if err := c.store.Append(ctx, env.Target.ID, env.Name, string(env.Payload), m.Time); err != nil {
			log.Printf("Failed to archive notification for %s: %v", env.Target.ID, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
