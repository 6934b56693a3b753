package main

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/nestbay/realtime/pkg/model"
	"github.com/nestbay/realtime/pkg/notify"
	"github.com/segmentio/kafka-go"
)

// envelope is the wire form of a notify.Event on the Kafka topic. Payload
// is pre-marshaled so every gateway instance can forward it untouched.
type envelope struct {
	Target  notify.Target   `json:"target"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Exclude []string        `json:"exclude,omitempty"`
}

// Hub tracks every local connection and its group memberships (rooms,
// per-user channels, role groups) and bridges fan-out through Kafka so all
// gateway instances deliver the same events. Events are keyed by target, so
// delivery order per room/user/role matches publish order — and publishes
// happen only after the responsible persistence write committed.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	groups  map[string]map[*Client]bool

	producer *kafka.Writer
	brokers  []string
	topic    string
}

func NewHub(brokers []string, topic string) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		groups:  make(map[string]map[*Client]bool),
		producer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
		brokers: brokers,
		topic:   topic,
	}
}

// Register adds a connection and joins its implicit groups: the personal
// notification channel and the identity's role group.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	h.joinLocked(c, notify.User(c.identity.ID).Key())
	h.joinLocked(c, notify.Role(string(c.identity.Role)).Key())
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for key := range c.groups {
		h.leaveLocked(c, key)
	}
	// Signal the writer instead of closing c.send: handlers may still be
	// sending on it from other goroutines.
	close(c.done)
}

func (h *Hub) JoinGroup(c *Client, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	h.joinLocked(c, key)
}

func (h *Hub) LeaveGroup(c *Client, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, key)
}

// InGroup reports whether the connection currently belongs to a group. The
// membership set is only ever touched under the hub lock.
func (h *Hub) InGroup(c *Client, key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.groups[key]
}

func (h *Hub) joinLocked(c *Client, key string) {
	if h.groups[key] == nil {
		h.groups[key] = make(map[*Client]bool)
	}
	h.groups[key][c] = true
	c.groups[key] = true
}

func (h *Hub) leaveLocked(c *Client, key string) {
	if members, ok := h.groups[key]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, key)
		}
	}
	delete(c.groups, key)
}

// Publish implements notify.Publisher: the event goes to Kafka and comes
// back through every gateway's consumer, local connections included.
func (h *Hub) Publish(ctx context.Context, ev notify.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(envelope{
		Target:  ev.Target,
		Name:    ev.Name,
		Payload: payload,
		Exclude: ev.Exclude,
	})
	if err != nil {
		return err
	}
	return h.producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Target.Key()),
		Value: value,
		Time:  time.Now(),
	})
}

// Run consumes the event topic and delivers to local connections. Each
// gateway instance uses its own consumer group so every instance sees every
// event (fan-out, not work-sharing). Returns when ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     h.brokers,
		Topic:       h.topic,
		GroupID:     "gateway-" + time.Now().Format("20060102150405.000000000"),
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})
	defer consumer.Close()
	defer h.producer.Close()

	for {
		m, err := consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("hub consumer error: %v. Retrying in 1s...", err)
			time.Sleep(1 * time.Second)
			continue
		}

		var env envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			log.Printf("hub: dropping malformed envelope: %v", err)
			continue
		}
		h.deliver(&env)
	}
}

func (h *Hub) deliver(env *envelope) {
	frame, err := json.Marshal(model.ServerFrame{Event: env.Name, Data: env.Payload})
	if err != nil {
		log.Printf("hub: marshal frame: %v", err)
		return
	}

	h.mu.RLock()
	var recipients map[*Client]bool
	if env.Target.Kind == notify.TargetAll {
		recipients = h.clients
	} else {
		recipients = h.groups[env.Target.Key()]
	}

	var stale []*Client
	for c := range recipients {
		if excluded(c.identity.ID, env.Exclude) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			// Send buffer full: the connection is not draining, drop it.
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		log.Printf("hub: dropping unresponsive connection for %s", c.identity.ID)
		h.Unregister(c)
	}
}

func excluded(id string, exclude []string) bool {
	for _, e := range exclude {
		if e == id {
			return true
		}
	}
	return false
}
