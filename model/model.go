// Package model holds the durable domain types shared by the server
// packages and the client library.
package model

import "time"

// MessageType enumerates supported message content kinds.
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
)

// NotificationType enumerates the workflow events that produce
// notifications. The set mirrors what the report workflow emits; the
// realtime core treats the value as opaque beyond validation.
type NotificationType string

const (
	NotificationReportAssigned NotificationType = "REPORT_ASSIGNED"
	NotificationReportResolved NotificationType = "REPORT_RESOLVED"
	NotificationReportComment  NotificationType = "REPORT_COMMENT"
	NotificationDirectMessage  NotificationType = "DIRECT_MESSAGE"
)

// UserSummary is the sender/peer projection embedded in messages and
// messaged-user listings. Presence fields are the durable audit copy,
// not the live registry state.
type UserSummary struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// Conversation groups messages between a fixed participant pair.
// Participants are stored normalized so that (a,b) and (b,a) resolve to
// the same row.
type Conversation struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message is append-only except for an explicit delete by its sender.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Sender         UserSummary `json:"sender"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content,omitempty"`
	Attachment     string      `json:"attachment,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	IsRead         bool        `json:"is_read"`
}

// Notification is owned per recipient: two recipients of logically the
// same workflow event get independent rows with independent read state.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	Type        NotificationType `json:"type"`
	Message     string           `json:"message"`
	CreatedBy   string           `json:"created_by"`
	IsRead      bool             `json:"is_read"`
	CreatedAt   time.Time        `json:"created_at"`
}
