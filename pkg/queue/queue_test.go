package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nestbay/realtime/pkg/errs"
	"github.com/nestbay/realtime/pkg/model"
	"github.com/nestbay/realtime/pkg/notify"
)

type fakeTicketStore struct {
	mu         sync.Mutex
	tickets    map[string]*model.Ticket
	failUpdate bool
}

func newFakeTicketStore() *fakeTicketStore {
	return &fakeTicketStore{tickets: make(map[string]*model.Ticket)}
}

func (s *fakeTicketStore) Create(ctx context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tickets[t.ID] = &cp
	return nil
}

func (s *fakeTicketStore) Ticket(ctx context.Context, id string) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "ticket not found")
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTicketStore) UpdateStatus(ctx context.Context, id string, status model.TicketStatus, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate {
		return errs.Wrap(errs.KindTransient, "update ticket status", errors.New("down"))
	}
	if t, ok := s.tickets[id]; ok {
		t.Status = status
		t.AgentID = agentID
	}
	return nil
}

func (s *fakeTicketStore) status(id string) model.TicketStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets[id].Status
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) named(name string) []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notify.Event
	for _, ev := range p.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

var (
	requester = model.Identity{ID: "cust1", Name: "Cara", Role: model.RoleCustomer}
	agentA    = model.Identity{ID: "a1", Name: "Ana", Role: model.RoleAgent}
	agentB    = model.Identity{ID: "a2", Name: "Bo", Role: model.RoleAgent}
)

func TestOpenEnqueuesAndBroadcasts(t *testing.T) {
	store, pub := newFakeTicketStore(), &recordingPublisher{}
	c := NewCoordinator(store, pub)
	ctx := context.Background()

	ticket, err := c.Open(ctx, requester, "payment issue", "payment failed twice")
	if err != nil {
		t.Fatal(err)
	}
	if ticket.Status != model.TicketOpen {
		t.Fatalf("status = %q, want open", ticket.Status)
	}

	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].TicketID != ticket.ID {
		t.Fatalf("queue = %+v, want single entry for %s", snap, ticket.ID)
	}
	if got := pub.named(model.EventQueueData); len(got) != 1 || got[0].Target != notify.Role("agent") {
		t.Fatalf("queue-data broadcasts = %+v, want one to role:agent", got)
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	store, pub := newFakeTicketStore(), &recordingPublisher{}
	c := NewCoordinator(store, pub)
	ctx := context.Background()

	ticket, err := c.Open(ctx, requester, "subject", "reason")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Enqueue(ctx, ticket, "reason"); err != nil {
		t.Fatal(err)
	}
	if got := len(c.Snapshot()); got != 1 {
		t.Fatalf("queue length = %d, want 1", got)
	}
}

func TestAgentConnectGateAndSnapshot(t *testing.T) {
	store, pub := newFakeTicketStore(), &recordingPublisher{}
	c := NewCoordinator(store, pub)
	ctx := context.Background()

	if _, err := c.AgentConnect(ctx, requester); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("customer agent-connect = %v, want forbidden", err)
	}

	ticket, _ := c.Open(ctx, requester, "subject", "reason")
	snap, err := c.AgentConnect(ctx, agentA)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 1 || snap[0].TicketID != ticket.ID {
		t.Fatalf("snapshot = %+v, want the waiting ticket", snap)
	}
}

func TestAcceptMovesTicketToSession(t *testing.T) {
	store, pub := newFakeTicketStore(), &recordingPublisher{}
	c := NewCoordinator(store, pub)
	ctx := context.Background()

	ticket, _ := c.Open(ctx, requester, "payment issue", "reason")
	c.AgentConnect(ctx, agentA)

	sess, accepted, err := c.Accept(ctx, agentA, ticket.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.AgentID != agentA.ID || sess.RequesterID != requester.ID {
		t.Fatalf("session = %+v", sess)
	}
	if accepted.Status != model.TicketAssigned || accepted.AgentID != agentA.ID {
		t.Fatalf("ticket = %+v, want assigned to a1", accepted)
	}
	if len(c.Snapshot()) != 0 {
		t.Fatal("queue should be empty after accept")
	}
	if store.status(ticket.ID) != model.TicketAssigned {
		t.Fatal("assigned status must be persisted")
	}

	assigned := pub.named(model.EventTicketAssigned)
	if len(assigned) != 1 || assigned[0].Target != notify.User(requester.ID) {
		t.Fatalf("ticket-assigned = %+v, want one to the requester", assigned)
	}
}

func TestConcurrentAcceptExactlyOneWinner(t *testing.T) {
	store, pub := newFakeTicketStore(), &recordingPublisher{}
	c := NewCoordinator(store, pub)
	ctx := context.Background()

	ticket, _ := c.Open(ctx, requester, "subject", "reason")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, agent := range []model.Identity{agentA, agentB} {
		wg.Add(1)
		go func(i int, agent model.Identity) {
			defer wg.Done()
			_, _, results[i] = c.Accept(ctx, agent, ticket.ID)
		}(i, agent)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, errs.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins=%d conflicts=%d, want exactly one of each", wins, conflicts)
	}
}

func TestAcceptPersistFailureRestoresQueue(t *testing.T) {
	store, pub := newFakeTicketStore(), &recordingPublisher{}
	c := NewCoordinator(store, pub)
	ctx := context.Background()

	ticket, _ := c.Open(ctx, requester, "subject", "reason")
	store.failUpdate = true

	_, _, err := c.Accept(ctx, agentA, ticket.ID)
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindTransient {
		t.Fatalf("err = %v, want transient", err)
	}
	if len(c.Snapshot()) != 1 {
		t.Fatal("ticket should be back in the queue after a failed claim")
	}
	if c.Session(ticket.ID) != nil {
		t.Fatal("no session may survive a failed claim")
	}
	if len(pub.named(model.EventTicketAssigned)) != 0 {
		t.Fatal("no assignment may be announced on failure")
	}
}

func TestEndSession(t *testing.T) {
	store, pub := newFakeTicketStore(), &recordingPublisher{}
	c := NewCoordinator(store, pub)
	ctx := context.Background()

	ticket, _ := c.Open(ctx, requester, "subject", "reason")
	c.Accept(ctx, agentA, ticket.ID)

	if err := c.End(ctx, agentB, ticket.ID, true); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("end by other agent = %v, want forbidden", err)
	}

	if err := c.End(ctx, agentA, ticket.ID, true); err != nil {
		t.Fatal(err)
	}
	if store.status(ticket.ID) != model.TicketResolved {
		t.Fatalf("status = %q, want resolved", store.status(ticket.ID))
	}
	if c.Session(ticket.ID) != nil {
		t.Fatal("session should be gone")
	}
	closed := pub.named(model.EventTicketClosed)
	if len(closed) != 1 || closed[0].Target != notify.Room(ticket.ID) {
		t.Fatalf("ticket-closed = %+v, want one to the ticket room", closed)
	}

	if err := c.End(ctx, agentA, ticket.ID, true); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("double end = %v, want not_found", err)
	}
}

func TestEndUnresolvedCloses(t *testing.T) {
	store, pub := newFakeTicketStore(), &recordingPublisher{}
	c := NewCoordinator(store, pub)
	ctx := context.Background()

	ticket, _ := c.Open(ctx, requester, "subject", "reason")
	c.Accept(ctx, agentA, ticket.ID)
	if err := c.End(ctx, agentA, ticket.ID, false); err != nil {
		t.Fatal(err)
	}
	if store.status(ticket.ID) != model.TicketClosed {
		t.Fatalf("status = %q, want closed", store.status(ticket.ID))
	}
}

func TestAgentDisconnectLeavesSessionAssigned(t *testing.T) {
	store, pub := newFakeTicketStore(), &recordingPublisher{}
	c := NewCoordinator(store, pub)
	ctx := context.Background()

	ticket, _ := c.Open(ctx, requester, "subject", "reason")
	c.AgentConnect(ctx, agentA)
	c.Accept(ctx, agentA, ticket.ID)

	c.AgentDisconnect(agentA.ID)

	if c.Session(ticket.ID) == nil {
		t.Fatal("active session must survive the agent disconnect")
	}
	if store.status(ticket.ID) != model.TicketAssigned {
		t.Fatal("ticket must stay assigned until a supervisor intervenes")
	}
	if len(c.Snapshot()) != 0 {
		t.Fatal("ticket must not be auto-requeued")
	}
}

func TestSessionTranscript(t *testing.T) {
	sess := &Session{TicketID: "t1", AgentID: "a1", RequesterID: "cust1", StartedAt: time.Now()}
	sess.Record(model.Message{ID: 1, Content: "hi"})
	sess.Record(model.Message{ID: 2, Content: "hello"})

	tr := sess.Transcript()
	if len(tr) != 2 || tr[0].ID != 1 || tr[1].ID != 2 {
		t.Fatalf("transcript = %+v", tr)
	}
}
