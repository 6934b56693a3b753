// Package queue coordinates live support: the waiting list of open tickets,
// the active agent<->requester sessions, and agent availability. All three
// live in the memory of the single coordinating gateway process and are
// mutated only through the operations here.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nestbay/realtime/pkg/auth"
	"github.com/nestbay/realtime/pkg/errs"
	"github.com/nestbay/realtime/pkg/model"
	"github.com/nestbay/realtime/pkg/notify"
)

// TicketStore is the durable side of the queue: ticket rows and their
// status transitions.
type TicketStore interface {
	Create(ctx context.Context, t *model.Ticket) error
	Ticket(ctx context.Context, id string) (*model.Ticket, error)
	UpdateStatus(ctx context.Context, id string, status model.TicketStatus, agentID string) error
}

// Session is the live pairing of one agent and one ticket. The message
// buffer is a UI convenience for the agent side; persisted storage remains
// authoritative.
type Session struct {
	TicketID    string    `json:"ticket_id"`
	AgentID     string    `json:"agent_id"`
	RequesterID string    `json:"requester_id"`
	StartedAt   time.Time `json:"started_at"`

	mu     sync.Mutex
	buffer []model.Message
}

func (s *Session) Record(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, m)
}

func (s *Session) Transcript() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.buffer))
	copy(out, s.buffer)
	return out
}

type Coordinator struct {
	tickets TicketStore
	pub     notify.Publisher

	mu       sync.Mutex
	waiting  []model.QueueEntry
	sessions map[string]*Session        // ticket id -> session
	agents   map[string]model.Identity // agent id -> identity

	now func() time.Time
}

func NewCoordinator(tickets TicketStore, pub notify.Publisher) *Coordinator {
	return &Coordinator{
		tickets:  tickets,
		pub:      pub,
		sessions: make(map[string]*Session),
		agents:   make(map[string]model.Identity),
		now:      time.Now,
	}
}

// Open creates a ticket for the requester and puts it in the waiting queue.
func (c *Coordinator) Open(ctx context.Context, requester model.Identity, subject, reason string) (*model.Ticket, error) {
	t := &model.Ticket{
		ID:            uuid.NewString(),
		RequesterID:   requester.ID,
		RequesterName: requester.Name,
		Subject:       subject,
		Status:        model.TicketOpen,
		CreatedAt:     c.now(),
		UpdatedAt:     c.now(),
	}
	if err := c.tickets.Create(ctx, t); err != nil {
		return nil, err
	}
	if err := c.Enqueue(ctx, t, reason); err != nil {
		return nil, err
	}
	return t, nil
}

// Enqueue appends a waiting entry for an open ticket. Re-enqueueing a
// ticket that is already waiting or already in a session is a no-op.
func (c *Coordinator) Enqueue(ctx context.Context, t *model.Ticket, reason string) error {
	c.mu.Lock()
	if c.indexOf(t.ID) >= 0 || c.sessions[t.ID] != nil {
		c.mu.Unlock()
		return nil
	}
	c.waiting = append(c.waiting, model.QueueEntry{
		TicketID:      t.ID,
		RequesterID:   t.RequesterID,
		RequesterName: t.RequesterName,
		Reason:        reason,
		EnqueuedAt:    c.now(),
	})
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	return c.broadcastQueue(ctx, snapshot)
}

// AgentConnect registers an available agent and returns the current queue
// snapshot. Only identities with the agent capability may register.
func (c *Coordinator) AgentConnect(ctx context.Context, agent model.Identity) ([]model.QueueEntry, error) {
	if !auth.HasCapability(agent, auth.CapabilityAgent) {
		return nil, errs.New(errs.KindForbidden, "agent role required")
	}
	c.mu.Lock()
	c.agents[agent.ID] = agent
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	return snapshot, nil
}

// AgentDisconnect removes the agent from the availability map. Active
// sessions are deliberately left assigned; a supervisor has to intervene.
func (c *Coordinator) AgentDisconnect(agentID string) {
	c.mu.Lock()
	delete(c.agents, agentID)
	c.mu.Unlock()
}

// Accept atomically claims a waiting ticket for an agent: the queue entry
// is removed and the session created under one lock, so of two concurrent
// accepts exactly one wins and the other gets a conflict.
func (c *Coordinator) Accept(ctx context.Context, agent model.Identity, ticketID string) (*Session, *model.Ticket, error) {
	if !auth.HasCapability(agent, auth.CapabilityAgent) {
		return nil, nil, errs.New(errs.KindForbidden, "agent role required")
	}

	c.mu.Lock()
	i := c.indexOf(ticketID)
	if i < 0 {
		c.mu.Unlock()
		return nil, nil, errs.New(errs.KindConflict, "ticket is no longer in the queue")
	}
	entry := c.waiting[i]
	c.waiting = append(c.waiting[:i], c.waiting[i+1:]...)
	sess := &Session{
		TicketID:    ticketID,
		AgentID:     agent.ID,
		RequesterID: entry.RequesterID,
		StartedAt:   c.now(),
	}
	c.sessions[ticketID] = sess
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if err := c.tickets.UpdateStatus(ctx, ticketID, model.TicketAssigned, agent.ID); err != nil {
		// Persistence failed: undo the claim so the ticket is not lost.
		c.mu.Lock()
		delete(c.sessions, ticketID)
		c.waiting = append([]model.QueueEntry{entry}, c.waiting...)
		c.mu.Unlock()
		return nil, nil, err
	}

	ticket, err := c.tickets.Ticket(ctx, ticketID)
	if err != nil {
		ticket = &model.Ticket{
			ID:            ticketID,
			RequesterID:   entry.RequesterID,
			RequesterName: entry.RequesterName,
			Status:        model.TicketAssigned,
			AgentID:       agent.ID,
		}
	}

	c.broadcastQueue(ctx, snapshot)
	c.pub.Publish(ctx, notify.Event{
		Target: notify.User(entry.RequesterID),
		Name:   model.EventTicketAssigned,
		Payload: map[string]any{
			"ticket_id":  ticketID,
			"agent_id":   agent.ID,
			"agent_name": agent.Name,
		},
	})
	return sess, ticket, nil
}

// End closes an active session. Only the assigned agent may end it.
func (c *Coordinator) End(ctx context.Context, agent model.Identity, ticketID string, resolved bool) error {
	c.mu.Lock()
	sess := c.sessions[ticketID]
	if sess == nil {
		c.mu.Unlock()
		return errs.New(errs.KindNotFound, "no active session for this ticket")
	}
	if sess.AgentID != agent.ID {
		c.mu.Unlock()
		return errs.New(errs.KindForbidden, "session belongs to another agent")
	}
	delete(c.sessions, ticketID)
	c.mu.Unlock()

	status := model.TicketClosed
	if resolved {
		status = model.TicketResolved
	}
	if err := c.tickets.UpdateStatus(ctx, ticketID, status, agent.ID); err != nil {
		c.mu.Lock()
		c.sessions[ticketID] = sess
		c.mu.Unlock()
		return err
	}

	return c.pub.Publish(ctx, notify.Event{
		Target: notify.Room(ticketID),
		Name:   model.EventTicketClosed,
		Payload: map[string]any{
			"ticket_id": ticketID,
			"status":    status,
		},
	})
}

// Session returns the active session for a ticket, or nil.
func (c *Coordinator) Session(ticketID string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[ticketID]
}

// Snapshot returns the current waiting queue in order.
func (c *Coordinator) Snapshot() []model.QueueEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) indexOf(ticketID string) int {
	for i, e := range c.waiting {
		if e.TicketID == ticketID {
			return i
		}
	}
	return -1
}

func (c *Coordinator) snapshotLocked() []model.QueueEntry {
	out := make([]model.QueueEntry, len(c.waiting))
	copy(out, c.waiting)
	return out
}

func (c *Coordinator) broadcastQueue(ctx context.Context, snapshot []model.QueueEntry) error {
	return c.pub.Publish(ctx, notify.Event{
		Target:  notify.Role("agent"),
		Name:    model.EventQueueData,
		Payload: map[string]any{"queue": snapshot},
	})
}
