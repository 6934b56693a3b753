package db

import (
	"context"
	"errors"
	"sort"

	"github.com/gocql/gocql"
	"github.com/nestbay/realtime/pkg/errs"
	"github.com/nestbay/realtime/pkg/model"
)

const previewLen = 120

// ChatStore persists conversations, messages and read markers.
type ChatStore struct {
	s *Session
}

func NewChatStore(s *Session) *ChatStore {
	return &ChatStore{s: s}
}

func (st *ChatStore) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	err := st.s.Query(
		`SELECT id, type, participants, listing_id, last_message, last_sender, last_activity, created_at
		 FROM conversations WHERE id = ?`, id).WithContext(ctx).
		Scan(&c.ID, &c.Type, &c.Participants, &c.ListingID, &c.LastMessage, &c.LastSenderID, &c.LastActivity, &c.CreatedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, errs.New(errs.KindNotFound, "conversation not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "read conversation", err)
	}
	return &c, nil
}

// CreateConversation writes the conversation row and one inbox row per
// participant in a single logged batch.
func (st *ChatStore) CreateConversation(ctx context.Context, c *model.Conversation) error {
	batch := st.s.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(
		`INSERT INTO conversations (id, type, participants, listing_id, last_message, last_sender, last_activity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Type, c.Participants, c.ListingID, c.LastMessage, c.LastSenderID, c.LastActivity, c.CreatedAt)
	for _, p := range c.Participants {
		batch.Query(
			`INSERT INTO user_conversations (user_id, conversation_id) VALUES (?, ?)`,
			p, c.ID)
	}
	if err := st.s.ExecuteBatch(batch); err != nil {
		return errs.Wrap(errs.KindTransient, "create conversation", err)
	}
	return nil
}

// AppendMessage inserts the message and refreshes the conversation summary
// in one logged batch: a message never exists without the inbox snapshot
// that orders it.
func (st *ChatStore) AppendMessage(ctx context.Context, m *model.Message) error {
	batch := st.s.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(
		`INSERT INTO messages (conversation_id, id, sender_id, content, kind, attachment, created_at, edited, deleted, read)
		 VALUES (?, ?, ?, ?, ?, ?, ?, false, false, false)`,
		m.ConversationID, m.ID, m.SenderID, m.Content, m.Kind, m.Attachment, m.CreatedAt)
	batch.Query(
		`UPDATE conversations SET last_message = ?, last_sender = ?, last_activity = ? WHERE id = ?`,
		preview(m.Content), m.SenderID, m.CreatedAt, m.ConversationID)
	if err := st.s.ExecuteBatch(batch); err != nil {
		return errs.Wrap(errs.KindTransient, "save message", err)
	}
	return nil
}

func (st *ChatStore) Message(ctx context.Context, conversationID string, id int64) (*model.Message, error) {
	var m model.Message
	err := st.s.Query(
		`SELECT conversation_id, id, sender_id, content, kind, attachment, created_at, edited, deleted, read
		 FROM messages WHERE conversation_id = ? AND id = ?`, conversationID, id).WithContext(ctx).
		Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.Content, &m.Kind, &m.Attachment, &m.CreatedAt, &m.Edited, &m.Deleted, &m.Read)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, errs.New(errs.KindNotFound, "message not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "read message", err)
	}
	return &m, nil
}

func (st *ChatStore) UpdateMessage(ctx context.Context, m *model.Message) error {
	err := st.s.Query(
		`UPDATE messages SET content = ?, edited = ?, deleted = ? WHERE conversation_id = ? AND id = ?`,
		m.Content, m.Edited, m.Deleted, m.ConversationID, m.ID).WithContext(ctx).Exec()
	if err != nil {
		return errs.Wrap(errs.KindTransient, "update message", err)
	}
	return nil
}

// MarkRead flips every unread message authored by someone else since the
// reader's last-read marker, advances the marker, and returns the flipped
// message ids.
func (st *ChatStore) MarkRead(ctx context.Context, conversationID, readerID string) ([]int64, error) {
	var lastRead int64
	err := st.s.Query(
		`SELECT last_read FROM read_markers WHERE conversation_id = ? AND user_id = ?`,
		conversationID, readerID).WithContext(ctx).Scan(&lastRead)
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return nil, errs.Wrap(errs.KindTransient, "read marker", err)
	}

	iter := st.s.Query(
		`SELECT id, sender_id, read FROM messages WHERE conversation_id = ? AND id > ?`,
		conversationID, lastRead).WithContext(ctx).Iter()

	var flipped []int64
	maxID := lastRead
	var id int64
	var senderID string
	var read bool
	for iter.Scan(&id, &senderID, &read) {
		if id > maxID {
			maxID = id
		}
		if senderID != readerID && !read {
			flipped = append(flipped, id)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, errs.Wrap(errs.KindTransient, "scan unread messages", err)
	}
	if maxID == lastRead && len(flipped) == 0 {
		return nil, nil
	}

	batch := st.s.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, msgID := range flipped {
		batch.Query(
			`UPDATE messages SET read = true WHERE conversation_id = ? AND id = ?`,
			conversationID, msgID)
	}
	batch.Query(
		`INSERT INTO read_markers (conversation_id, user_id, last_read) VALUES (?, ?, ?)`,
		conversationID, readerID, maxID)
	if err := st.s.ExecuteBatch(batch); err != nil {
		return nil, errs.Wrap(errs.KindTransient, "mark read", err)
	}
	return flipped, nil
}

// History pages backwards through a conversation, newest first.
func (st *ChatStore) History(ctx context.Context, conversationID string, before int64, limit int) ([]model.Message, error) {
	if before <= 0 {
		before = int64(^uint64(0) >> 1)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	iter := st.s.Query(
		`SELECT conversation_id, id, sender_id, content, kind, attachment, created_at, edited, deleted, read
		 FROM messages WHERE conversation_id = ? AND id < ? LIMIT ?`,
		conversationID, before, limit).WithContext(ctx).Iter()

	var out []model.Message
	var m model.Message
	for iter.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.Content, &m.Kind, &m.Attachment, &m.CreatedAt, &m.Edited, &m.Deleted, &m.Read) {
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, errs.Wrap(errs.KindTransient, "read history", err)
	}
	return out, nil
}

// ConversationsFor returns the identity's inbox ordered by last activity.
func (st *ChatStore) ConversationsFor(ctx context.Context, userID string) ([]model.Conversation, error) {
	iter := st.s.Query(
		`SELECT conversation_id FROM user_conversations WHERE user_id = ?`,
		userID).WithContext(ctx).Iter()

	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, errs.Wrap(errs.KindTransient, "read inbox", err)
	}

	out := make([]model.Conversation, 0, len(ids))
	for _, cid := range ids {
		c, err := st.Conversation(ctx, cid)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLen {
		return content
	}
	return string(runes[:previewLen])
}
