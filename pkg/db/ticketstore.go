package db

import (
	"context"
	"errors"
	"time"

	"github.com/gocql/gocql"
	"github.com/nestbay/realtime/pkg/errs"
	"github.com/nestbay/realtime/pkg/model"
)

// TicketStore persists support tickets. The waiting queue and active
// sessions stay in gateway memory; only ticket status transitions are
// durable.
type TicketStore struct {
	s *Session
}

func NewTicketStore(s *Session) *TicketStore {
	return &TicketStore{s: s}
}

func (st *TicketStore) Create(ctx context.Context, t *model.Ticket) error {
	err := st.s.Query(
		`INSERT INTO tickets (id, requester_id, requester_name, subject, status, agent_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RequesterID, t.RequesterName, t.Subject, t.Status, t.AgentID, t.CreatedAt, t.UpdatedAt).
		WithContext(ctx).Exec()
	if err != nil {
		return errs.Wrap(errs.KindTransient, "create ticket", err)
	}
	return nil
}

func (st *TicketStore) Ticket(ctx context.Context, id string) (*model.Ticket, error) {
	var t model.Ticket
	err := st.s.Query(
		`SELECT id, requester_id, requester_name, subject, status, agent_id, created_at, updated_at
		 FROM tickets WHERE id = ?`, id).WithContext(ctx).
		Scan(&t.ID, &t.RequesterID, &t.RequesterName, &t.Subject, &t.Status, &t.AgentID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, errs.New(errs.KindNotFound, "ticket not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "read ticket", err)
	}
	return &t, nil
}

func (st *TicketStore) UpdateStatus(ctx context.Context, id string, status model.TicketStatus, agentID string) error {
	err := st.s.Query(
		`UPDATE tickets SET status = ?, agent_id = ?, updated_at = ? WHERE id = ?`,
		status, agentID, time.Now(), id).WithContext(ctx).Exec()
	if err != nil {
		return errs.Wrap(errs.KindTransient, "update ticket status", err)
	}
	return nil
}

func (st *TicketStore) ByStatus(ctx context.Context, status model.TicketStatus, limit int) ([]model.Ticket, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	iter := st.s.Query(
		`SELECT id, requester_id, requester_name, subject, status, agent_id, created_at, updated_at
		 FROM tickets WHERE status = ? LIMIT ?`, status, limit).WithContext(ctx).Iter()

	var out []model.Ticket
	var t model.Ticket
	for iter.Scan(&t.ID, &t.RequesterID, &t.RequesterName, &t.Subject, &t.Status, &t.AgentID, &t.CreatedAt, &t.UpdatedAt) {
		out = append(out, t)
	}
	if err := iter.Close(); err != nil {
		return nil, errs.Wrap(errs.KindTransient, "list tickets", err)
	}
	return out, nil
}
