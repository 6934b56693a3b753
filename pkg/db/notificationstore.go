package db

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	"github.com/nestbay/realtime/pkg/errs"
	"github.com/nestbay/realtime/pkg/model"
)

// NotificationStore archives per-user pushes so clients that were offline
// when an event fired can catch up over the API.
type NotificationStore struct {
	s *Session
}

func NewNotificationStore(s *Session) *NotificationStore {
	return &NotificationStore{s: s}
}

func (st *NotificationStore) Append(ctx context.Context, userID, event, payload string, at time.Time) error {
	err := st.s.Query(
		`INSERT INTO notifications (user_id, id, event, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, gocql.TimeUUID(), event, payload, at).WithContext(ctx).Exec()
	if err != nil {
		return errs.Wrap(errs.KindTransient, "archive notification", err)
	}
	return nil
}

// Recent returns the newest notifications for a user.
func (st *NotificationStore) Recent(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	iter := st.s.Query(
		`SELECT user_id, id, event, payload, created_at FROM notifications WHERE user_id = ? LIMIT ?`,
		userID, limit).WithContext(ctx).Iter()

	var out []model.Notification
	var n model.Notification
	var id gocql.UUID
	for iter.Scan(&n.UserID, &id, &n.Event, &n.Payload, &n.CreatedAt) {
		n.ID = id.String()
		out = append(out, n)
	}
	if err := iter.Close(); err != nil {
		return nil, errs.Wrap(errs.KindTransient, "read notifications", err)
	}
	return out, nil
}
