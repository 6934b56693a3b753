package model

import "encoding/json"

// Client -> server events.
const (
	EventJoinRoom          = "join-room"
	EventLeaveRoom         = "leave-room"
	EventStartConversation = "start-conversation"
	EventSendMessage       = "send-message"
	EventEditMessage       = "edit-message"
	EventDeleteMessage     = "delete-message"
	EventMarkRead          = "mark-read"
	EventTyping            = "typing"
	EventOpenTicket        = "open-ticket"
	EventAgentConnect      = "agent-connect"
	EventAgentAcceptChat   = "agent-accept-chat"
	EventAgentSendMessage  = "agent-send-message"
	EventAgentEndSession   = "agent-end-session"
	EventPresenceStatus    = "presence-update-status"
	EventPresenceHeartbeat = "presence-heartbeat"
)

// Server -> client events.
const (
	EventNewMessage          = "new-message"
	EventMessageSent         = "message-sent"
	EventMessageEdited       = "message-edited"
	EventMessageDeleted      = "message-deleted"
	EventMessagesRead        = "messages-read"
	EventUserTyping          = "user-typing"
	EventConversationStarted = "conversation-started"
	EventQueueData           = "queue-data"
	EventChatAccepted        = "chat-accepted"
	EventTicketOpened        = "ticket-opened"
	EventTicketAssigned      = "ticket-assigned"
	EventTicketMessage       = "ticket-message"
	EventTicketClosed        = "ticket-closed"
	EventUserOnline          = "presence-user-online"
	EventUserOffline         = "presence-user-offline"
	EventUserStatus          = "presence-user-status"
	EventNewNotification     = "new-notification"
	EventError               = "error"
)

// ClientFrame is the envelope every client message arrives in.
type ClientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerFrame is the envelope every server push goes out in.
type ServerFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}
