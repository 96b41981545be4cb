// Package wire defines the JSON payloads exchanged over the websocket
// channel and the REST surface.
package wire

import "github.com/opencivic/relay/model"

// ServerEvent is the closed set of server-to-client pushes. Exactly one
// field is set per event; unknown combinations are a protocol bug.
type ServerEvent struct {
	// Roster is the complete set of online user ids. It always fully
	// replaces the client's local set, never patches it.
	Roster []string `json:"roster,omitempty"`

	Message      *model.Message      `json:"message,omitempty"`
	Notification *model.Notification `json:"notification,omitempty"`
}

// Kind reports which variant the event carries.
func (e *ServerEvent) Kind() string {
	switch {
	case e.Roster != nil:
		return "roster"
	case e.Message != nil:
		return "message"
	case e.Notification != nil:
		return "notification"
	default:
		return "empty"
	}
}

// MessagePayload is the client-supplied part of a send request. At least
// one of Content/Attachment must be non-empty.
type MessagePayload struct {
	Content    string `json:"content,omitempty"`
	Attachment string `json:"attachment,omitempty"`
}

// IsEmpty reports whether the payload carries neither text nor an
// attachment reference.
func (p MessagePayload) IsEmpty() bool {
	return p.Content == "" && p.Attachment == ""
}

// Type derives the message kind: an attachment makes it an image
// message, otherwise plain text.
func (p MessagePayload) Type() model.MessageType {
	if p.Attachment != "" {
		return model.MessageImage
	}
	return model.MessageText
}

// HistoryResponse is a page of conversation history. ConversationID is
// set whenever the conversation exists, so a client can route later
// pushes even when the page itself is empty; it is absent for a pair
// that never exchanged a message.
type HistoryResponse struct {
	ConversationID string           `json:"conversation_id,omitempty"`
	Messages       []*model.Message `json:"messages"`
}

// DeleteManyRequest names notification ids to remove in one call.
type DeleteManyRequest struct {
	IDs []string `json:"ids"`
}

// ErrorResponse is the REST error body. Internal details are never
// surfaced here.
type ErrorResponse struct {
	Error string `json:"error"`
}
