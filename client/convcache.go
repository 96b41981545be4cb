package client

import (
	"context"
	"sync"

	"github.com/opencivic/relay/model"
	"github.com/opencivic/relay/wire"
)

// Gateway is the REST slice the cache needs: history fetch and sends.
// History also reports the conversation id so the cache can route
// pushes for a conversation whose history is empty.
type Gateway interface {
	History(ctx context.Context, peer string) (convID string, msgs []*model.Message, err error)
	Send(ctx context.Context, peer string, payload wire.MessagePayload) (*model.Message, error)
}

type convState int

const (
	convUnloaded convState = iota
	convLoading
	convLoaded
)

// conversation holds the cached message sequence for one peer.
// Insertion order equals createdAt order, maintained by the idempotent
// merge rule in appendLocked.
type conversation struct {
	state    convState
	convID   string
	messages []model.Message
	ids      map[string]bool

	// pushes that arrived while the history fetch was in flight; merged
	// after load so neither ordering loses messages.
	pending []model.Message
}

// ConversationCache reconciles REST history with live pushes for one
// session. Conversations are keyed by peer user id; pushes are routed
// by the server-assigned conversation id once it is known.
type ConversationCache struct {
	mu      sync.Mutex
	gateway Gateway
	selfID  string

	byPeer   map[string]*conversation
	byConvID map[string]string // conversation id → peer

	roster map[string]bool
}

func NewConversationCache(gateway Gateway, selfID string) *ConversationCache {
	return &ConversationCache{
		gateway:  gateway,
		selfID:   selfID,
		byPeer:   make(map[string]*conversation),
		byConvID: make(map[string]string),
		roster:   make(map[string]bool),
	}
}

// Open returns the conversation with peer, fetching history on first
// access: Unloaded → Loading → Loaded. Later calls return the cache
// without re-entering Loading. A failed fetch leaves the conversation
// Unloaded and the cache unchanged.
func (c *ConversationCache) Open(ctx context.Context, peer string) ([]model.Message, error) {
	c.mu.Lock()
	conv, ok := c.byPeer[peer]
	if !ok {
		conv = &conversation{ids: make(map[string]bool)}
		c.byPeer[peer] = conv
	}
	if conv.state == convLoaded {
		out := copyMessages(conv.messages)
		c.mu.Unlock()
		return out, nil
	}
	conv.state = convLoading
	c.mu.Unlock()

	convID, history, err := c.gateway.History(ctx, peer)
	if err != nil {
		c.mu.Lock()
		conv.state = convUnloaded
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Record the routing entry even when the history page is empty, so
	// the echo push of a message sent from another device still lands.
	if convID != "" {
		conv.convID = convID
		c.byConvID[convID] = peer
	}

	conv.messages = conv.messages[:0]
	conv.ids = make(map[string]bool, len(history))
	for _, m := range history {
		c.appendLocked(conv, peer, *m)
	}
	for _, m := range conv.pending {
		c.appendLocked(conv, peer, m)
	}
	conv.pending = nil
	conv.state = convLoaded

	return copyMessages(conv.messages), nil
}

// AppendIncoming merges a pushed message: a duplicate id is a no-op,
// anything else appends at the tail. Repeated delivery of the same
// message is therefore harmless, which is what makes multi-device
// fan-out safe without dedup on the server.
func (c *ConversationCache) AppendIncoming(msg *model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	peer, ok := c.byConvID[msg.ConversationID]
	if !ok {
		// First sign of this conversation: route by the sender when the
		// message is inbound, otherwise it belongs to a conversation
		// this session has not opened and history will cover it.
		if msg.SenderID == c.selfID {
			return
		}
		peer = msg.SenderID
	}

	conv, ok := c.byPeer[peer]
	if !ok {
		// Not opened: the history fetch on first access includes it.
		return
	}

	switch conv.state {
	case convLoading:
		conv.pending = append(conv.pending, *msg)
	case convLoaded:
		c.appendLocked(conv, peer, *msg)
	default:
		// Unloaded: same as not opened.
	}
}

// Send posts to the REST surface and appends only the canonical,
// server-assigned message from the response. Nothing is appended
// optimistically: a failed send leaves the cache unchanged.
func (c *ConversationCache) Send(ctx context.Context, peer string, payload wire.MessagePayload) (*model.Message, error) {
	msg, err := c.gateway.Send(ctx, peer, payload)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if conv, ok := c.byPeer[peer]; ok && conv.state == convLoaded {
		c.appendLocked(conv, peer, *msg)
	}
	c.mu.Unlock()

	return msg, nil
}

func (c *ConversationCache) appendLocked(conv *conversation, peer string, msg model.Message) {
	if conv.ids[msg.ID] {
		return
	}
	conv.ids[msg.ID] = true
	conv.messages = append(conv.messages, msg)

	if msg.ConversationID != "" {
		conv.convID = msg.ConversationID
		c.byConvID[msg.ConversationID] = peer
	}
}

// SetRoster fully replaces the local online set. The server always
// emits the complete roster, so replace-not-merge is what makes
// reconnection self-healing.
func (c *ConversationCache) SetRoster(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.roster = make(map[string]bool, len(ids))
	for _, id := range ids {
		c.roster[id] = true
	}
}

func (c *ConversationCache) IsOnline(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roster[userID]
}

// Messages returns the cached sequence for peer, oldest first.
func (c *ConversationCache) Messages(peer string) []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.byPeer[peer]; ok {
		return copyMessages(conv.messages)
	}
	return nil
}

func copyMessages(in []model.Message) []model.Message {
	out := make([]model.Message, len(in))
	copy(out, in)
	return out
}
