// Package presence maintains each identity's best-known online/away/offline
// status and recency.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/nestbay/realtime/pkg/errs"
	"github.com/nestbay/realtime/pkg/model"
	"github.com/nestbay/realtime/pkg/notify"
)

// Store is the durable side of presence. Only the Tracker mutates it.
type Store interface {
	Upsert(ctx context.Context, rec model.PresenceRecord) error
	Touch(ctx context.Context, userID string, at time.Time) error
	Get(ctx context.Context, userIDs []string) ([]model.PresenceRecord, error)
}

// Tracker runs the per-identity presence state machine:
//
//	offline --connect--> online --status/heartbeat--> {online, away} --disconnect--> offline
//
// It counts live connections per identity so out-of-order disconnects from
// concurrent connections never mark a still-connected identity offline.
type Tracker struct {
	store Store
	pub   notify.Publisher

	mu    sync.Mutex
	conns map[string]int

	now func() time.Time
}

func NewTracker(store Store, pub notify.Publisher) *Tracker {
	return &Tracker{
		store: store,
		pub:   pub,
		conns: make(map[string]int),
		now:   time.Now,
	}
}

// Connect records a new live connection. The first connection for an
// identity flips it online and announces it to everyone.
func (t *Tracker) Connect(ctx context.Context, id model.Identity) error {
	t.mu.Lock()
	t.conns[id.ID]++
	first := t.conns[id.ID] == 1
	t.mu.Unlock()

	rec := model.PresenceRecord{UserID: id.ID, Status: model.StatusOnline, LastSeen: t.now()}
	if err := t.store.Upsert(ctx, rec); err != nil {
		return errs.Wrap(errs.KindTransient, "record presence", err)
	}

	if first {
		return t.pub.Publish(ctx, notify.Event{
			Target:  notify.Everyone(),
			Name:    model.EventUserOnline,
			Payload: rec,
		})
	}
	return nil
}

// SetStatus applies an explicit client status change. Clients may only pick
// online or away; offline happens through disconnects.
func (t *Tracker) SetStatus(ctx context.Context, id model.Identity, status model.PresenceStatus) error {
	if status != model.StatusOnline && status != model.StatusAway {
		return errs.Newf(errs.KindInvalid, "invalid presence status %q", status)
	}

	rec := model.PresenceRecord{UserID: id.ID, Status: status, LastSeen: t.now()}
	if err := t.store.Upsert(ctx, rec); err != nil {
		return errs.Wrap(errs.KindTransient, "record presence", err)
	}

	return t.pub.Publish(ctx, notify.Event{
		Target:  notify.Everyone(),
		Name:    model.EventUserStatus,
		Payload: rec,
	})
}

// Heartbeat refreshes recency only; status is untouched.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	if err := t.store.Touch(ctx, userID, t.now()); err != nil {
		return errs.Wrap(errs.KindTransient, "refresh presence", err)
	}
	return nil
}

// Disconnect drops one live connection. Idempotent per connection: only
// when the last connection goes does the identity flip offline.
func (t *Tracker) Disconnect(ctx context.Context, id model.Identity) error {
	t.mu.Lock()
	if t.conns[id.ID] > 0 {
		t.conns[id.ID]--
	}
	last := t.conns[id.ID] == 0
	if last {
		delete(t.conns, id.ID)
	}
	t.mu.Unlock()

	if !last {
		return t.store.Touch(ctx, id.ID, t.now())
	}

	rec := model.PresenceRecord{UserID: id.ID, Status: model.StatusOffline, LastSeen: t.now()}
	if err := t.store.Upsert(ctx, rec); err != nil {
		return errs.Wrap(errs.KindTransient, "record presence", err)
	}

	return t.pub.Publish(ctx, notify.Event{
		Target:  notify.Everyone(),
		Name:    model.EventUserOffline,
		Payload: rec,
	})
}

// Statuses is the batch read used for presence indicators.
func (t *Tracker) Statuses(ctx context.Context, userIDs []string) ([]model.PresenceRecord, error) {
	recs, err := t.store.Get(ctx, userIDs)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "read presence", err)
	}
	return recs, nil
}
