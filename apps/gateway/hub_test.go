package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/nestbay/realtime/pkg/chat"
	"github.com/nestbay/realtime/pkg/model"
	"github.com/nestbay/realtime/pkg/notify"
)

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, ev notify.Event) error { return nil }

func newTestHub() *Hub {
	return NewHub([]string{"localhost:19092"}, "events")
}

func TestSendEventAfterUnregister(t *testing.T) {
	h := newTestHub()
	c := newTestClient(nil)
	h.Register(c)

	h.Unregister(c)
	h.Unregister(c) // idempotent

	select {
	case <-c.done:
	default:
		t.Fatal("unregister must signal the writer")
	}

	// Handlers may still be mid-flight when the hub evicts a connection;
	// their acks must be dropped, not panic.
	c.sendEvent(model.EventMessageSent, map[string]string{"id": "1"})
}

func TestDeliverAfterEviction(t *testing.T) {
	h := newTestHub()
	c := newTestClient(nil)
	h.Register(c)
	h.JoinGroup(c, notify.Room("c-1").Key())
	h.Unregister(c)

	payload, _ := json.Marshal(map[string]string{"x": "y"})
	h.deliver(&envelope{Target: notify.Room("c-1"), Name: model.EventNewMessage, Payload: payload})

	select {
	case frame := <-c.send:
		t.Fatalf("evicted connection received %s", frame)
	default:
	}
}

func TestTypingRacesEviction(t *testing.T) {
	h := newTestHub()
	svc := chat.NewService(nil, nil, nopPublisher{}, nil)
	g := NewGateway(h, nil, nil, svc, nil)

	for i := 0; i < 50; i++ {
		c := newTestClient(g)
		h.Register(c)
		h.JoinGroup(c, notify.Room("c-1").Key())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.dispatch(c, model.ClientFrame{
				Event: model.EventTyping,
				Data:  json.RawMessage(`{"conversation_id":"c-1","is_typing":true}`),
			})
		}()
		go func() {
			defer wg.Done()
			h.Unregister(c)
		}()
		wg.Wait()
	}
}

func TestInGroup(t *testing.T) {
	h := newTestHub()
	c := newTestClient(nil)
	h.Register(c)

	key := notify.Room("c-1").Key()
	if h.InGroup(c, key) {
		t.Fatal("not joined yet")
	}
	h.JoinGroup(c, key)
	if !h.InGroup(c, key) {
		t.Fatal("joined but not reported")
	}
	h.LeaveGroup(c, key)
	if h.InGroup(c, key) {
		t.Fatal("left but still reported")
	}
}
