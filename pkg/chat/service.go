// Package chat implements room-scoped conversation messaging: membership
// checks, sanitization, persistence and fan-out.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nestbay/realtime/pkg/errs"
	"github.com/nestbay/realtime/pkg/limiter"
	"github.com/nestbay/realtime/pkg/model"
	"github.com/nestbay/realtime/pkg/notify"
	"github.com/nestbay/realtime/pkg/snowflake"
)

// Tombstone replaces the content of deleted messages so history ordering
// survives deletion.
const Tombstone = "[message deleted]"

// Store is the persistence contract the service depends on. AppendMessage
// must write the message and the conversation summary atomically.
type Store interface {
	Conversation(ctx context.Context, id string) (*model.Conversation, error)
	CreateConversation(ctx context.Context, c *model.Conversation) error
	AppendMessage(ctx context.Context, m *model.Message) error
	Message(ctx context.Context, conversationID string, id int64) (*model.Message, error)
	UpdateMessage(ctx context.Context, m *model.Message) error
	MarkRead(ctx context.Context, conversationID, readerID string) ([]int64, error)
}

type Service struct {
	store Store
	lim   limiter.Limiter
	pub   notify.Publisher
	ids   *snowflake.Node
	now   func() time.Time
}

func NewService(store Store, lim limiter.Limiter, pub notify.Publisher, ids *snowflake.Node) *Service {
	return &Service{store: store, lim: lim, pub: pub, ids: ids, now: time.Now}
}

// JoinRoom authorizes a connection to receive a conversation's broadcasts.
// Only listed participants may join.
func (s *Service) JoinRoom(ctx context.Context, id model.Identity, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(id.ID) {
		return nil, errs.New(errs.KindForbidden, "not a participant of this conversation")
	}
	return conv, nil
}

// Start creates a conversation between a participant set, optionally linked
// to a listing. The creator is always a participant.
func (s *Service) Start(ctx context.Context, creator model.Identity, others []string, typ model.ConversationType, listingID string) (*model.Conversation, error) {
	allowed, retry, err := s.lim.Allow(ctx, creator.ID, limiter.ActionConversationCreate)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "rate limiter unavailable", err)
	}
	if !allowed {
		return nil, errs.RateLimited(retry)
	}

	participants := append([]string{creator.ID}, others...)
	seen := make(map[string]bool, len(participants))
	unique := participants[:0]
	for _, p := range participants {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		unique = append(unique, p)
	}
	if len(unique) < 2 {
		return nil, errs.New(errs.KindInvalid, "a conversation needs at least two participants")
	}
	if typ != model.ConversationDirect && typ != model.ConversationSupport {
		typ = model.ConversationDirect
	}

	conv := &model.Conversation{
		ID:           uuid.NewString(),
		Type:         typ,
		Participants: unique,
		ListingID:    listingID,
		LastActivity: s.now(),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	for _, p := range unique {
		if p == creator.ID {
			continue
		}
		s.pub.Publish(ctx, notify.Event{
			Target:  notify.User(p),
			Name:    model.EventConversationStarted,
			Payload: conv,
		})
	}
	return conv, nil
}

// EnsureSupportConversation creates the support room for a ticket if it does
// not exist yet. The room id is the ticket id.
func (s *Service) EnsureSupportConversation(ctx context.Context, ticketID string, participants []string) (*model.Conversation, error) {
	conv, err := s.store.Conversation(ctx, ticketID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	conv = &model.Conversation{
		ID:           ticketID,
		Type:         model.ConversationSupport,
		Participants: participants,
		LastActivity: s.now(),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Send runs the full pipeline: rate limit, sanitize + spam check,
// membership check, atomic persist, then fan-out. The fan-out happens
// strictly after the persistence write commits, so no room member can
// observe a message that is not yet fetchable from history.
func (s *Service) Send(ctx context.Context, sender model.Identity, conversationID, content string, kind model.MessageKind, attachment string) (*model.Message, error) {
	allowed, retry, err := s.lim.Allow(ctx, sender.ID, limiter.ActionMessageSend)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "rate limiter unavailable", err)
	}
	if !allowed {
		return nil, errs.RateLimited(retry)
	}
	if kind == model.KindImage || kind == model.KindFile {
		allowed, retry, err = s.lim.Allow(ctx, sender.ID, limiter.ActionFileUpload)
		if err != nil {
			return nil, errs.Wrap(errs.KindTransient, "rate limiter unavailable", err)
		}
		if !allowed {
			return nil, errs.RateLimited(retry)
		}
	} else {
		kind = model.KindText
	}

	clean, err := sanitize(content)
	if err != nil {
		return nil, err
	}

	conv, err := s.store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(sender.ID) {
		return nil, errs.New(errs.KindForbidden, "not a participant of this conversation")
	}

	msg := &model.Message{
		ID:             s.ids.Generate(),
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		Content:        clean,
		Kind:           kind,
		Attachment:     attachment,
		CreatedAt:      s.now(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	roomEvent := model.EventNewMessage
	if conv.Type == model.ConversationSupport {
		roomEvent = model.EventTicketMessage
	}
	s.pub.Publish(ctx, notify.Event{
		Target:  notify.Room(conv.ID),
		Name:    roomEvent,
		Payload: msg,
		Exclude: []string{sender.ID},
	})
	for _, p := range conv.Participants {
		if p == sender.ID {
			continue
		}
		s.pub.Publish(ctx, notify.Event{
			Target: notify.User(p),
			Name:   model.EventNewNotification,
			Payload: map[string]any{
				"conversation_id": conv.ID,
				"sender_id":       sender.ID,
				"sender_name":     sender.Name,
				"preview":         clean,
			},
		})
	}
	return msg, nil
}

// Edit replaces a message's content. Only the original sender may edit;
// prior content is not retained.
func (s *Service) Edit(ctx context.Context, sender model.Identity, conversationID string, messageID int64, newContent string) (*model.Message, error) {
	msg, err := s.store.Message(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != sender.ID {
		return nil, errs.New(errs.KindForbidden, "only the sender may edit a message")
	}
	if msg.Deleted {
		return nil, errs.New(errs.KindNotFound, "message was deleted")
	}

	clean, err := sanitize(newContent)
	if err != nil {
		return nil, err
	}

	msg.Content = clean
	msg.Edited = true
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.pub.Publish(ctx, notify.Event{
		Target:  notify.Room(conversationID),
		Name:    model.EventMessageEdited,
		Payload: msg,
	})
	return msg, nil
}

// Delete tombstones a message. The row is kept so history ordering is
// preserved.
func (s *Service) Delete(ctx context.Context, sender model.Identity, conversationID string, messageID int64) error {
	msg, err := s.store.Message(ctx, conversationID, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != sender.ID {
		return errs.New(errs.KindForbidden, "only the sender may delete a message")
	}

	msg.Content = Tombstone
	msg.Deleted = true
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return err
	}

	s.pub.Publish(ctx, notify.Event{
		Target: notify.Room(conversationID),
		Name:   model.EventMessageDeleted,
		Payload: map[string]any{
			"conversation_id": conversationID,
			"message_id":      messageID,
		},
	})
	return nil
}

// MarkRead flips unread messages sent by others and tells the room so read
// receipts update live. The caller's own messages are never touched.
func (s *Service) MarkRead(ctx context.Context, reader model.Identity, conversationID string) error {
	conv, err := s.store.Conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(reader.ID) {
		return errs.New(errs.KindForbidden, "not a participant of this conversation")
	}

	flipped, err := s.store.MarkRead(ctx, conversationID, reader.ID)
	if err != nil {
		return err
	}
	if len(flipped) == 0 {
		return nil
	}

	s.pub.Publish(ctx, notify.Event{
		Target: notify.Room(conversationID),
		Name:   model.EventMessagesRead,
		Payload: map[string]any{
			"conversation_id": conversationID,
			"reader_id":       reader.ID,
			"message_ids":     flipped,
		},
		Exclude: []string{reader.ID},
	})
	return nil
}

// Typing relays an ephemeral typing indicator to the rest of the room.
// Nothing is persisted and no rate-limit budget is charged.
func (s *Service) Typing(ctx context.Context, sender model.Identity, conversationID string, isTyping bool) error {
	return s.pub.Publish(ctx, notify.Event{
		Target: notify.Room(conversationID),
		Name:   model.EventUserTyping,
		Payload: map[string]any{
			"conversation_id": conversationID,
			"user_id":         sender.ID,
			"user_name":       sender.Name,
			"is_typing":       isTyping,
		},
		Exclude: []string{sender.ID},
	})
}
