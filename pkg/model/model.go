package model

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

// Identity is the authenticated user attached to a connection. It is read
// from the verified credential and never mutated afterwards.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationSupport ConversationType = "support"
)

type Conversation struct {
	ID           string           `json:"id"`
	Type         ConversationType `json:"type"`
	Participants []string         `json:"participants"`
	ListingID    string           `json:"listing_id,omitempty"`
	LastMessage  string           `json:"last_message"`
	LastSenderID string           `json:"last_sender_id"`
	LastActivity time.Time        `json:"last_activity"`
	CreatedAt    time.Time        `json:"created_at"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

type Message struct {
	ID             int64       `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"kind"`
	Attachment     string      `json:"attachment,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	Edited         bool        `json:"edited"`
	Deleted        bool        `json:"deleted"`
	Read           bool        `json:"read"`
}

type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketAssigned   TicketStatus = "assigned"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
)

type Ticket struct {
	ID            string       `json:"id"`
	RequesterID   string       `json:"requester_id"`
	RequesterName string       `json:"requester_name"`
	Subject       string       `json:"subject"`
	Status        TicketStatus `json:"status"`
	AgentID       string       `json:"agent_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// QueueEntry is the ephemeral waiting-list projection of an open ticket. It
// exists only while no agent has accepted the ticket.
type QueueEntry struct {
	TicketID      string    `json:"ticket_id"`
	RequesterID   string    `json:"requester_id"`
	RequesterName string    `json:"requester_name"`
	Reason        string    `json:"reason"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

type PresenceRecord struct {
	UserID   string         `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}

// Notification is a durable copy of a per-user push, kept so a user who was
// offline when the event fired can still catch up.
type Notification struct {
	UserID    string    `json:"user_id"`
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
