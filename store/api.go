package store

import (
	"context"
	"errors"

	"github.com/opencivic/relay/model"
	"github.com/opencivic/relay/wire"
)

var (
	// ErrEmptyMessage rejects a send with neither text nor attachment.
	ErrEmptyMessage = errors.New("message requires text or an attachment")

	// ErrNotFound reports a lookup miss for rows owned by the caller.
	ErrNotFound = errors.New("not found")
)

// Page declares a restartable slice of a conversation's history.
// BeforeID restarts keyset pagination from a previous page's oldest
// message; empty means the newest page. Ascending flips the order for
// callers that render oldest-first.
type Page struct {
	BeforeID  string
	Limit     int
	Ascending bool
}

//go:generate mockgen -destination mock/store.go -package mock_store github.com/opencivic/relay/store MessageStore,NotificationStore

// MessageStore persists conversations and their messages. Authorization
// (sender-only delete) is enforced by the caller, not here.
type MessageStore interface {
	// CreateOrGetConversation is idempotent for the unordered pair (a, b).
	CreateOrGetConversation(ctx context.Context, a, b string) (*model.Conversation, error)

	// GetConversation looks the pair up without creating anything.
	// Returns ErrNotFound when the pair never exchanged a message.
	GetConversation(ctx context.Context, a, b string) (*model.Conversation, error)

	// AppendMessage persists a message, assigning id and timestamp.
	// Returns ErrEmptyMessage when the payload is empty.
	AppendMessage(ctx context.Context, conversationID, senderID string, payload wire.MessagePayload) (*model.Message, error)

	GetMessage(ctx context.Context, messageID string) (*model.Message, error)

	ListMessages(ctx context.Context, conversationID string, page Page) ([]*model.Message, error)

	// DeleteMessage reports whether a row was removed.
	DeleteMessage(ctx context.Context, messageID string) (bool, error)

	// ListMessagedUsers returns the peers the user shares a conversation
	// with, newest conversation first.
	ListMessagedUsers(ctx context.Context, userID string) ([]*model.UserSummary, error)
}

// NotificationStore persists per-recipient notification rows.
type NotificationStore interface {
	// Insert persists a notification. The intake (partition, offset)
	// pair dedups redelivered events: a duplicate reports created=false.
	// Offsets alone repeat across partitions.
	Insert(ctx context.Context, n *model.Notification, sourcePartition int, sourceOffset int64) (created bool, err error)

	List(ctx context.Context, recipientID string) ([]*model.Notification, error)

	// MarkRead reports whether an unread row flipped to read.
	MarkRead(ctx context.Context, recipientID, id string) (bool, error)

	MarkAllRead(ctx context.Context, recipientID string) (int64, error)

	// Delete removes the recipient's rows among ids, returning the count.
	Delete(ctx context.Context, recipientID string, ids ...string) (int64, error)
}
