package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/nestbay/realtime/pkg/auth"
	"github.com/nestbay/realtime/pkg/chat"
	"github.com/nestbay/realtime/pkg/errs"
	"github.com/nestbay/realtime/pkg/model"
	"github.com/nestbay/realtime/pkg/notify"
	"github.com/nestbay/realtime/pkg/presence"
	"github.com/nestbay/realtime/pkg/queue"
)

const handlerTimeout = 10 * time.Second

var errInvalidFrame = errs.New(errs.KindInvalid, "malformed frame")

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

// Gateway wires the dispatch table: every named client event maps to one
// handler taking the connection and the raw payload. Handler errors go
// only to the originating connection, never to the room.
type Gateway struct {
	hub      *Hub
	verifier *auth.Verifier
	presence *presence.Tracker
	chat     *chat.Service
	queue    *queue.Coordinator

	handlers map[string]handlerFunc
}

func NewGateway(hub *Hub, verifier *auth.Verifier, tracker *presence.Tracker, chatSvc *chat.Service, coord *queue.Coordinator) *Gateway {
	g := &Gateway{
		hub:      hub,
		verifier: verifier,
		presence: tracker,
		chat:     chatSvc,
		queue:    coord,
	}
	g.handlers = map[string]handlerFunc{
		model.EventJoinRoom:          g.handleJoinRoom,
		model.EventLeaveRoom:         g.handleLeaveRoom,
		model.EventStartConversation: g.handleStartConversation,
		model.EventSendMessage:       g.handleSendMessage,
		model.EventEditMessage:       g.handleEditMessage,
		model.EventDeleteMessage:     g.handleDeleteMessage,
		model.EventMarkRead:          g.handleMarkRead,
		model.EventTyping:            g.handleTyping,
		model.EventOpenTicket:        g.handleOpenTicket,
		model.EventAgentConnect:      g.handleAgentConnect,
		model.EventAgentAcceptChat:   g.handleAgentAcceptChat,
		model.EventAgentSendMessage:  g.handleAgentSendMessage,
		model.EventAgentEndSession:   g.handleAgentEndSession,
		model.EventPresenceStatus:    g.handlePresenceStatus,
		model.EventPresenceHeartbeat: g.handlePresenceHeartbeat,
	}
	return g
}

// connect runs the post-handshake hooks for a freshly authenticated
// connection.
func (g *Gateway) connect(c *Client) {
	g.hub.Register(c)
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := g.presence.Connect(ctx, c.identity); err != nil {
		log.Printf("presence connect for %s: %v", c.identity.ID, err)
	}
}

// disconnect runs the cleanup hooks. A dropped connection cancels nothing
// in flight; it only updates presence and agent availability.
func (g *Gateway) disconnect(c *Client) {
	if c.agent {
		g.queue.AgentDisconnect(c.identity.ID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := g.presence.Disconnect(ctx, c.identity); err != nil {
		log.Printf("presence disconnect for %s: %v", c.identity.ID, err)
	}
	g.hub.Unregister(c)
}

func (g *Gateway) dispatch(c *Client, frame model.ClientFrame) {
	h, ok := g.handlers[frame.Event]
	if !ok {
		c.sendError(errs.Newf(errs.KindInvalid, "unknown event %q", frame.Event))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := h(ctx, c, frame.Data); err != nil {
		c.sendError(err)
	}
}

// sendEvent queues a frame for this connection only.
func (c *Client) sendEvent(name string, data any) {
	frame, err := json.Marshal(model.ServerFrame{Event: name, Data: data})
	if err != nil {
		log.Printf("marshal %s frame: %v", name, err)
		return
	}
	select {
	case c.send <- frame:
	default:
		log.Printf("dropping %s frame for %s: send buffer full", name, c.identity.ID)
	}
}

type errorPayload struct {
	Kind         errs.Kind `json:"kind"`
	Message      string    `json:"message"`
	RetryAfterMS int64     `json:"retry_after_ms,omitempty"`
}

func (c *Client) sendError(err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.Wrap(errs.KindTransient, "internal error", err)
	}
	c.sendEvent(model.EventError, errorPayload{
		Kind:         e.Kind,
		Message:      e.Message,
		RetryAfterMS: e.RetryAfter.Milliseconds(),
	})
}

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errInvalidFrame
	}
	return nil
}

func (g *Gateway) handleJoinRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	var p struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	conv, err := g.chat.JoinRoom(ctx, c.identity, p.ConversationID)
	if err != nil {
		return err
	}
	g.hub.JoinGroup(c, notify.Room(conv.ID).Key())
	return nil
}

func (g *Gateway) handleLeaveRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	var p struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	g.hub.LeaveGroup(c, notify.Room(p.ConversationID).Key())
	return nil
}

func (g *Gateway) handleStartConversation(ctx context.Context, c *Client, data json.RawMessage) error {
	var p struct {
		Participants []string               `json:"participants"`
		Type         model.ConversationType `json:"type"`
		ListingID    string                 `json:"listing_id"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	conv, err := g.chat.Start(ctx, c.identity, p.Participants, p.Type, p.ListingID)
	if err != nil {
		return err
	}
	g.hub.JoinGroup(c, notify.Room(conv.ID).Key())
	c.sendEvent(model.EventConversationStarted, conv)
	return nil
}

func (g *Gateway) handleSendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p struct {
		ConversationID string            `json:"conversation_id"`
		Content        string            `json:"content"`
		Kind           model.MessageKind `json:"kind"`
		Attachment     string            `json:"attachment"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	msg, err := g.chat.Send(ctx, c.identity, p.ConversationID, p.Content, p.Kind, p.Attachment)
	if err != nil {
		return err
	}
	if sess := g.queue.Session(p.ConversationID); sess != nil {
		sess.Record(*msg)
	}
	c.sendEvent(model.EventMessageSent, msg)
	return nil
}

func (g *Gateway) handleEditMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p struct {
		ConversationID string `json:"conversation_id"`
		MessageID      int64  `json:"message_id"`
		Content        string `json:"content"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	_, err := g.chat.Edit(ctx, c.identity, p.ConversationID, p.MessageID, p.Content)
	return err
}

func (g *Gateway) handleDeleteMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p struct {
		ConversationID string `json:"conversation_id"`
		MessageID      int64  `json:"message_id"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	return g.chat.Delete(ctx, c.identity, p.ConversationID, p.MessageID)
}

func (g *Gateway) handleMarkRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var p struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	return g.chat.MarkRead(ctx, c.identity, p.ConversationID)
}

func (g *Gateway) handleTyping(ctx context.Context, c *Client, data json.RawMessage) error {
	var p struct {
		ConversationID string `json:"conversation_id"`
		IsTyping       bool   `json:"is_typing"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	// Typing is ephemeral; a joined room is authorization enough.
	if !g.hub.InGroup(c, notify.Room(p.ConversationID).Key()) {
		return errs.New(errs.KindForbidden, "join the room first")
	}
	return g.chat.Typing(ctx, c.identity, p.ConversationID, p.IsTyping)
}

func (g *Gateway) handleOpenTicket(ctx context.Context, c *Client, data json.RawMessage) error {
	var p struct {
		Subject string `json:"subject"`
		Reason  string `json:"reason"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.Subject == "" {
		return errs.New(errs.KindInvalid, "subject is required")
	}
	ticket, err := g.queue.Open(ctx, c.identity, p.Subject, p.Reason)
	if err != nil {
		return err
	}
	c.sendEvent(model.EventTicketOpened, ticket)
	return nil
}

func (g *Gateway) handleAgentConnect(ctx context.Context, c *Client, data json.RawMessage) error {
	snapshot, err := g.queue.AgentConnect(ctx, c.identity)
	if err != nil {
		return err
	}
	c.agent = true
	g.hub.JoinGroup(c, notify.Role("agent").Key())
	c.sendEvent(model.EventQueueData, map[string]any{"queue": snapshot})
	return nil
}

func (g *Gateway) handleAgentAcceptChat(ctx context.Context, c *Client, data json.RawMessage) error {
	var p struct {
		TicketID string `json:"ticket_id"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	sess, ticket, err := g.queue.Accept(ctx, c.identity, p.TicketID)
	if err != nil {
		return err
	}
	conv, err := g.chat.EnsureSupportConversation(ctx, ticket.ID, []string{ticket.RequesterID, c.identity.ID})
	if err != nil {
		return err
	}
	g.hub.JoinGroup(c, notify.Room(conv.ID).Key())
	c.sendEvent(model.EventChatAccepted, map[string]any{
		"ticket":       ticket,
		"conversation": conv,
		"started_at":   sess.StartedAt,
	})
	return nil
}

func (g *Gateway) handleAgentSendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p struct {
		TicketID string `json:"ticket_id"`
		Content  string `json:"content"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	sess := g.queue.Session(p.TicketID)
	if sess == nil {
		return errs.New(errs.KindNotFound, "no active session for this ticket")
	}
	if sess.AgentID != c.identity.ID {
		return errs.New(errs.KindForbidden, "session belongs to another agent")
	}
	msg, err := g.chat.Send(ctx, c.identity, p.TicketID, p.Content, model.KindText, "")
	if err != nil {
		return err
	}
	sess.Record(*msg)
	c.sendEvent(model.EventMessageSent, msg)
	return nil
}

func (g *Gateway) handleAgentEndSession(ctx context.Context, c *Client, data json.RawMessage) error {
	var p struct {
		TicketID string `json:"ticket_id"`
		Resolved bool   `json:"resolved"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := g.queue.End(ctx, c.identity, p.TicketID, p.Resolved); err != nil {
		return err
	}
	g.hub.LeaveGroup(c, notify.Room(p.TicketID).Key())
	return nil
}

func (g *Gateway) handlePresenceStatus(ctx context.Context, c *Client, data json.RawMessage) error {
	var p struct {
		Status model.PresenceStatus `json:"status"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	return g.presence.SetStatus(ctx, c.identity, p.Status)
}

func (g *Gateway) handlePresenceHeartbeat(ctx context.Context, c *Client, data json.RawMessage) error {
	return g.presence.Heartbeat(ctx, c.identity.ID)
}
